package kafka

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProducer_GetWriterConcurrent(t *testing.T) {
	// Every orchestrator goroutine plus the supervisor publishes through one
	// shared producer, so writer creation on a cold map must be safe under
	// the race detector.
	p := NewProducer([]string{"localhost:9092"})
	defer p.Close()

	topics := []string{"rebalancer.events", "rebalancer.events", "rebalancer.status", "rebalancer.status"}

	var wg sync.WaitGroup
	writers := make([]interface{}, len(topics))
	for i, topic := range topics {
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			writers[i] = p.getWriter(topic)
		}(i, topic)
	}
	wg.Wait()

	// One writer per topic, shared by all callers
	assert.Same(t, writers[0], writers[1])
	assert.Same(t, writers[2], writers[3])
	assert.NotSame(t, writers[0], writers[2])
}
