package alerts

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu   sync.Mutex
	msgs []struct {
		subject string
		data    []byte
	}
	err error
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (b *fakeBus) count(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if m.subject == subject {
			n++
		}
	}
	return n
}

func TestPublisher_SessionLifecycle(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus)

	p.SessionStarted(42, "cam-1", "Sector 4", "hls")
	p.SessionFinished(42, "cam-1", "done")

	require.Equal(t, 2, bus.count(SubjectSession))

	var started SessionEvent
	require.NoError(t, json.Unmarshal(bus.msgs[0].data, &started))
	assert.Equal(t, "started", started.Kind)
	assert.Equal(t, int64(42), started.SessionID)
	assert.Equal(t, "hls", started.SourceType)

	var finished SessionEvent
	require.NoError(t, json.Unmarshal(bus.msgs[1].data, &finished))
	assert.Equal(t, "finished", finished.Kind)
	assert.Equal(t, "done", finished.Status)
}

func TestPublisher_HighRiskDedup(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus)

	for i := 0; i < 10; i++ {
		p.HighRiskTick("cam-1", 5, 60.0, int64(i*100))
	}
	assert.Equal(t, 1, bus.count(SubjectRisk), "repeats inside the window are silenced")

	// different level or camera is a distinct alert
	p.HighRiskTick("cam-1", 4, 55.0, 1100)
	p.HighRiskTick("cam-2", 5, 70.0, 1200)
	assert.Equal(t, 3, bus.count(SubjectRisk))
}

func TestPublisher_RiskPayload(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus)

	p.HighRiskTick("cam-9", 5, 83.2, 4200)

	require.Equal(t, 1, bus.count(SubjectRisk))
	var evt RiskEvent
	require.NoError(t, json.Unmarshal(bus.msgs[0].data, &evt))
	assert.Equal(t, "cam-9", evt.CameraID)
	assert.Equal(t, 5, evt.Level)
	assert.Equal(t, 83.2, evt.Pct)
	assert.Equal(t, int64(4200), evt.TsMs)
}

func TestPublisher_PublishErrorIsSwallowed(t *testing.T) {
	bus := &fakeBus{err: errors.New("broker gone")}
	p := NewPublisher(bus)

	// must not panic or propagate
	p.SessionStarted(1, "cam-1", "", "video")
	p.HighRiskTick("cam-1", 5, 50, 0)
}
