package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
)

type capture struct {
	mu    sync.Mutex
	msgs  []*model.Message
	times []time.Time
}

func newCapture() *capture {
	return &capture{}
}

func (c *capture) dispatch(msg *model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgs = append(c.msgs, msg)
	c.times = append(c.times, time.Now())
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.msgs)
}

func (c *capture) at(i int) *model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.msgs[i]
}

func (c *capture) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.times) < 2 {
		return 0
	}

	return c.times[1].Sub(c.times[0])
}

func waitForCount(t *testing.T, c *capture, want int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if c.count() >= want {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("expected %d dispatches, got %d", want, c.count())
}

func uavInfFactory(items []string) *model.Message {
	builder := model.NewMessageBuilder("1.0")

	status := make(map[string]interface{}, len(items))
	for _, id := range items {
		status[id] = id
	}

	return builder.CreateNotification(model.Body{"type": model.TypeUAVInf, "status": status})
}

func Test_BatchingLimiter_CoalescesWindow(t *testing.T) {
	limiter := NewBatchingLimiter(50*time.Millisecond, uavInfFactory)
	sink := newCapture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go limiter.Run(ctx, sink.dispatch)

	started := time.Now()

	limiter.AddRequest("DRN-01")
	limiter.AddRequest("DRN-01")
	limiter.AddRequest([]string{"DRN-02", "DRN-01"})

	waitForCount(t, sink, 1, time.Second)
	time.Sleep(80 * time.Millisecond)

	require.Equal(t, 1, sink.count(), "requests within one window coalesce into one message")

	sink.mu.Lock()
	firstAt := sink.times[0]
	sink.mu.Unlock()

	assert.GreaterOrEqual(t, firstAt.Sub(started), 45*time.Millisecond,
		"the bundle accumulates for the delay window before dispatch")

	status := sink.at(0).Body["status"].(map[string]interface{})
	assert.Len(t, status, 2, "bundler de-duplicates ids")
}

func Test_BatchingLimiter_InterDispatchInterval(t *testing.T) {
	delay := 60 * time.Millisecond
	limiter := NewBatchingLimiter(delay, uavInfFactory)
	sink := newCapture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go limiter.Run(ctx, sink.dispatch)

	limiter.AddRequest("DRN-01")
	waitForCount(t, sink, 1, time.Second)

	limiter.AddRequest("DRN-02")
	waitForCount(t, sink, 2, time.Second)

	assert.GreaterOrEqual(t, sink.interval(), delay-5*time.Millisecond,
		"the delay window separates consecutive dispatches")
}

func connInfFactory(id string) *model.Message {
	builder := model.NewMessageBuilder("1.0")

	return builder.CreateNotification(model.Body{"type": model.TypeConnInf, "id": id})
}

func Test_ConnStatusLimiter_StableDispatchesImmediately(t *testing.T) {
	limiter := NewConnStatusLimiter(100*time.Millisecond, 200*time.Millisecond, connInfFactory)
	sink := newCapture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go limiter.Run(ctx, sink.dispatch)

	limiter.AddRequest(StatusRequest{ID: "xbee", OldState: model.ConnStateConnecting, NewState: model.ConnStateConnected})

	waitForCount(t, sink, 1, time.Second)
}

func Test_ConnStatusLimiter_SuppressesTransientFlap(t *testing.T) {
	limiter := NewConnStatusLimiter(100*time.Millisecond, 200*time.Millisecond, connInfFactory)
	sink := newCapture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go limiter.Run(ctx, sink.dispatch)

	// reach a stable CONNECTED first
	limiter.AddRequest(StatusRequest{ID: "xbee", OldState: model.ConnStateConnecting, NewState: model.ConnStateConnected})
	waitForCount(t, sink, 1, time.Second)

	// flap: CONNECTED -> DISCONNECTING -> CONNECTED within 50 ms
	limiter.AddRequest(StatusRequest{ID: "xbee", OldState: model.ConnStateConnected, NewState: model.ConnStateDisconnecting})
	time.Sleep(50 * time.Millisecond)
	limiter.AddRequest(StatusRequest{ID: "xbee", OldState: model.ConnStateDisconnecting, NewState: model.ConnStateConnected})

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "a flap settling back into the recent stable state is suppressed")
}

func Test_ConnStatusLimiter_ReportsSettledDisconnect(t *testing.T) {
	limiter := NewConnStatusLimiter(100*time.Millisecond, 200*time.Millisecond, connInfFactory)
	sink := newCapture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go limiter.Run(ctx, sink.dispatch)

	limiter.AddRequest(StatusRequest{ID: "xbee", OldState: model.ConnStateConnecting, NewState: model.ConnStateConnected})
	waitForCount(t, sink, 1, time.Second)

	limiter.AddRequest(StatusRequest{ID: "xbee", OldState: model.ConnStateConnected, NewState: model.ConnStateDisconnecting})
	limiter.AddRequest(StatusRequest{ID: "xbee", OldState: model.ConnStateDisconnecting, NewState: model.ConnStateDisconnected})

	waitForCount(t, sink, 2, time.Second)
}

func Test_Registry_RegisterWhileRunningFails(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register("UAV-INF", NewBatchingLimiter(time.Millisecond, uavInfFactory)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)

		registry.Run(ctx, func(*model.Message) {})
	}()

	time.Sleep(20 * time.Millisecond)

	err := registry.Register("SYS-MSG", NewBatchingLimiter(time.Millisecond, uavInfFactory))
	assert.ErrorIs(t, err, errors.ErrLimiterRunning)

	cancel()
	<-done
}

func Test_Registry_RequestUnknownTag(t *testing.T) {
	registry := NewRegistry()

	err := registry.Request("BOGUS", "x")
	assert.ErrorIs(t, err, errors.ErrNoSuchLimiter)
}
