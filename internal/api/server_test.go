package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poseidon/internal/domain/position"
	"poseidon/internal/domain/rebalance"
	"poseidon/internal/rebalancer"
	"poseidon/pkg/errors"
)

type fakeStatus struct {
	statuses []rebalancer.PositionStatus
}

func (f *fakeStatus) Status() []rebalancer.PositionStatus {
	return f.statuses
}

// fakeJournal serves canned events and snapshots
type fakeJournal struct {
	events    map[string][]*rebalance.Event
	recent    []*rebalance.Event
	snapshots map[string]*position.Position

	lastLimit int
}

func (f *fakeJournal) CreateEvent(ctx context.Context, event *rebalance.Event) error { return nil }

func (f *fakeJournal) ListEventsByPosition(ctx context.Context, positionID string, limit int) ([]*rebalance.Event, error) {
	f.lastLimit = limit
	return f.events[positionID], nil
}

func (f *fakeJournal) ListRecentEvents(ctx context.Context, limit int) ([]*rebalance.Event, error) {
	f.lastLimit = limit
	return f.recent, nil
}

func (f *fakeJournal) SaveSnapshot(ctx context.Context, snapshot *position.Position) error {
	return nil
}

func (f *fakeJournal) LatestSnapshot(ctx context.Context, positionID string) (*position.Position, error) {
	if p, ok := f.snapshots[positionID]; ok {
		return p, nil
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "no snapshot for %s", positionID)
}

type fakeHealth struct {
	err error
}

func (f *fakeHealth) Health(ctx context.Context) error {
	return f.err
}

func testJournal() *fakeJournal {
	executed := rebalance.NewEvent("exec-1", rebalance.EventRebalanceExecuted,
		rebalance.SeverityInfo, "sustained below-range excursion")
	started := rebalance.NewEvent("exec-2", rebalance.EventSupervisionStarted,
		rebalance.SeverityInfo, "orchestrator spawned")

	return &fakeJournal{
		events: map[string][]*rebalance.Event{"exec-1": {executed}},
		recent: []*rebalance.Event{executed, started},
		snapshots: map[string]*position.Position{
			"exec-1": {ID: "exec-1", TradingPair: "SOL-USDC", State: position.StateInRange, FetchedAt: time.Now().UTC()},
		},
	}
}

func TestHandler_Status(t *testing.T) {
	status := &fakeStatus{statuses: []rebalancer.PositionStatus{
		{PositionID: "exec-1", State: position.StateInRange},
	}}
	server := httptest.NewServer(NewHandler(status, testJournal(), nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []rebalancer.PositionStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "exec-1", got[0].PositionID)
}

func TestHandler_RecentEvents(t *testing.T) {
	journal := testJournal()
	server := httptest.NewServer(NewHandler(&fakeStatus{}, journal, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, defaultEventLimit, journal.lastLimit)

	var got []*rebalance.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestHandler_EventsByPosition(t *testing.T) {
	journal := testJournal()
	server := httptest.NewServer(NewHandler(&fakeStatus{}, journal, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/events?position_id=exec-1&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, journal.lastLimit)

	var got []*rebalance.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, rebalance.EventRebalanceExecuted, got[0].Type)
}

func TestHandler_EventsWithoutJournal(t *testing.T) {
	server := httptest.NewServer(NewHandler(&fakeStatus{}, nil, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandler_Snapshot(t *testing.T) {
	server := httptest.NewServer(NewHandler(&fakeStatus{}, testJournal(), nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/snapshot?position_id=exec-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got position.Position
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "exec-1", got.ID)
	assert.Equal(t, "SOL-USDC", got.TradingPair)
}

func TestHandler_SnapshotNotFound(t *testing.T) {
	server := httptest.NewServer(NewHandler(&fakeStatus{}, testJournal(), nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/snapshot?position_id=exec-gone")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_SnapshotRequiresPositionID(t *testing.T) {
	server := httptest.NewServer(NewHandler(&fakeStatus{}, testJournal(), nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_HealthChecksDependencies(t *testing.T) {
	server := httptest.NewServer(NewHandler(&fakeStatus{}, nil, map[string]HealthChecker{
		"postgres": &fakeHealth{},
	}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_HealthFailsWithDeadDependency(t *testing.T) {
	server := httptest.NewServer(NewHandler(&fakeStatus{}, nil, map[string]HealthChecker{
		"redis": &fakeHealth{err: errors.New("connection refused")},
	}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, defaultEventLimit, parseLimit(""))
	assert.Equal(t, defaultEventLimit, parseLimit("abc"))
	assert.Equal(t, defaultEventLimit, parseLimit("-5"))
	assert.Equal(t, 25, parseLimit("25"))
	assert.Equal(t, maxEventLimit, parseLimit("10000"))
}
