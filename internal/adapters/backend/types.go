package backend

import (
	"github.com/shopspring/decimal"
)

// Wire types for the trading backend REST API. The schema is owned by the
// backend; these mirror only the fields this system reads and writes.

type executorResponse struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Config     executorConfig `json:"config"`
	CustomInfo customInfo     `json:"custom_info"`
}

type customInfo struct {
	State           string          `json:"state"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	LowerPrice      decimal.Decimal `json:"lower_price"`
	UpperPrice      decimal.Decimal `json:"upper_price"`
	BaseAmount      decimal.Decimal `json:"base_amount"`
	QuoteAmount     decimal.Decimal `json:"quote_amount"`
	BaseFee         decimal.Decimal `json:"base_fee"`
	QuoteFee        decimal.Decimal `json:"quote_fee"`
	PositionAddress string          `json:"position_address"`
}

type executorConfig struct {
	ConnectorName string `json:"connector_name"`
	TradingPair   string `json:"trading_pair"`
	PoolAddress   string `json:"pool_address"`
	Side          string `json:"side"`

	LowerPrice  decimal.Decimal `json:"lower_price"`
	UpperPrice  decimal.Decimal `json:"upper_price"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`

	CloseBelowAfterSecs int64  `json:"close_below_after_secs,omitempty"`
	CloseAboveAfterSecs int64  `json:"close_above_after_secs,omitempty"`
	Strategy            string `json:"strategy,omitempty"`
}

type createRequest struct {
	ExecutorConfig executorConfig `json:"executor_config"`
	AccountName    string         `json:"account_name"`
}

type createResponse struct {
	ID string `json:"id"`
}

type stopRequest struct {
	KeepPosition bool `json:"keep_position"`
}
