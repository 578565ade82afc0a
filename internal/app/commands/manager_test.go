package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyhub/internal/app/model"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

func testManager(t *testing.T, timeout, cleanup time.Duration) (*Manager, context.CancelFunc) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Commands.Timeout = timeout
	cfg.Commands.CleanupPeriod = cleanup

	manager := NewManager(cfg, &logger.NoopLogger{})

	ctx, cancel := context.WithCancel(context.Background())

	go manager.Run(ctx)

	t.Cleanup(cancel)

	return manager, cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met in time")
}

func Test_Manager_SyncValueFinishesImmediately(t *testing.T) {
	manager, _ := testManager(t, time.Second, time.Second)

	finished := make(chan *Receipt, 1)
	manager.Finished.Connect(func(r *Receipt) { finished <- r })

	receipt, err := manager.New("ok", "c1")
	require.NoError(t, err)
	assert.True(t, receipt.Sent())
	assert.True(t, manager.IsValidReceiptID(receipt.ID()))

	waitFor(t, time.Second, receipt.Finished)

	select {
	case <-finished:
		t.Fatal("terminal signal must wait for the client notification mark")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, manager.MarkClientsNotified(receipt.ID()))

	select {
	case r := <-finished:
		assert.Equal(t, "ok", r.Result())
		assert.Equal(t, []string{"c1"}, r.ClientsToNotify())
	case <-time.After(time.Second):
		t.Fatal("expected finished signal")
	}
}

func Test_Manager_FutureResolves(t *testing.T) {
	manager, _ := testManager(t, time.Second, time.Second)

	finished := make(chan *Receipt, 1)
	manager.Finished.Connect(func(r *Receipt) { finished <- r })

	future := model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
		time.Sleep(30 * time.Millisecond)

		return "done", nil
	})

	receipt, err := manager.New(future, "c1")
	require.NoError(t, err)
	require.NoError(t, manager.MarkClientsNotified(receipt.ID()))

	select {
	case r := <-finished:
		assert.Equal(t, "done", r.Result())

		body := r.ResponseBody()
		assert.Equal(t, model.TypeAsyncResp, body.Type())
		assert.Equal(t, "done", body["result"])
	case <-time.After(time.Second):
		t.Fatal("expected finished signal")
	}
}

func Test_Manager_Timeout(t *testing.T) {
	manager, _ := testManager(t, 80*time.Millisecond, time.Hour)

	expired := make(chan []*Receipt, 1)
	manager.Expired.Connect(func(rs []*Receipt) { expired <- rs })

	finishedCount := 0
	manager.Finished.Connect(func(*Receipt) { finishedCount++ })

	future := model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
		select {
		case <-time.After(10 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	receipt, err := manager.New(future, "c1")
	require.NoError(t, err)
	require.NoError(t, manager.MarkClientsNotified(receipt.ID()))

	select {
	case rs := <-expired:
		require.Len(t, rs, 1)
		assert.Equal(t, receipt.ID(), rs[0].ID())
		assert.True(t, rs[0].TimedOut())
	case <-time.After(time.Second):
		t.Fatal("expected expiry")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, finishedCount, "a timed out command must not finish")
}

func Test_Manager_CancelByUser(t *testing.T) {
	manager, _ := testManager(t, time.Hour, time.Hour)

	cancelled := make(chan *Receipt, 1)
	manager.Cancelled.Connect(func(r *Receipt) { cancelled <- r })

	finishedCount := 0
	manager.Finished.Connect(func(*Receipt) { finishedCount++ })

	started := make(chan struct{})

	future := model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
		close(started)
		<-ctx.Done()

		return nil, ctx.Err()
	})

	receipt, err := manager.New(future, "c1")
	require.NoError(t, err)
	require.NoError(t, manager.MarkClientsNotified(receipt.ID()))

	<-started
	require.NoError(t, manager.Cancel(receipt.ID()))

	select {
	case r := <-cancelled:
		assert.True(t, r.CancelledByUser())
		assert.False(t, r.TimedOut())

		body := r.ResponseBody()
		assert.Equal(t, true, body["cancelled"])
	case <-time.After(time.Second):
		t.Fatal("expected cancellation")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, finishedCount, "terminal result must not be re-emitted after cancel")
}

func Test_Manager_ErrorResult(t *testing.T) {
	manager, _ := testManager(t, time.Second, time.Second)

	finished := make(chan *Receipt, 1)
	manager.Finished.Connect(func(r *Receipt) { finished <- r })

	future := model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
		return nil, assert.AnError
	})

	receipt, err := manager.New(future, "c1")
	require.NoError(t, err)
	require.NoError(t, manager.MarkClientsNotified(receipt.ID()))

	select {
	case r := <-finished:
		body := r.ResponseBody()
		assert.Equal(t, assert.AnError.Error(), body["error"])
		_, hasResult := body["result"]
		assert.False(t, hasResult)
	case <-time.After(time.Second):
		t.Fatal("expected finished signal")
	}
}

func Test_Manager_ProgressAndSuspend(t *testing.T) {
	manager, _ := testManager(t, time.Hour, time.Hour)

	statuses := make(chan model.Body, 8)
	manager.StatusUpdated.Connect(func(r *Receipt) { statuses <- r.StatusBody() })

	finished := make(chan *Receipt, 1)
	manager.Finished.Connect(func(r *Receipt) { finished <- r })

	future := model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
		cc.Report(model.NewProgress(50, "halfway"))

		value, err := cc.Suspend(ctx, nil)
		if err != nil {
			return nil, err
		}

		return value, nil
	})

	receipt, err := manager.New(future, "c1")
	require.NoError(t, err)
	require.NoError(t, manager.MarkClientsNotified(receipt.ID()))

	// progress report
	select {
	case body := <-statuses:
		progress, ok := body["progress"].(model.Progress)
		require.True(t, ok)
		assert.Equal(t, 50, *progress.Percentage)
		assert.Equal(t, "halfway", progress.Message)
	case <-time.After(time.Second):
		t.Fatal("expected progress status")
	}

	// suspension
	select {
	case body := <-statuses:
		assert.Equal(t, true, body["suspended"])
	case <-time.After(time.Second):
		t.Fatal("expected suspended status")
	}

	waitFor(t, time.Second, receipt.Suspended)
	require.NoError(t, manager.Resume(receipt.ID(), "resumed-value"))

	select {
	case r := <-finished:
		assert.Equal(t, "resumed-value", r.Result())
	case <-time.After(time.Second):
		t.Fatal("expected finish after resume")
	}
}

func Test_Manager_Resume_NotSuspended(t *testing.T) {
	manager, _ := testManager(t, time.Second, time.Second)

	receipt, err := manager.New("ok", "")
	require.NoError(t, err)

	waitFor(t, time.Second, receipt.Finished)

	assert.Error(t, manager.Resume(receipt.ID(), nil))
	assert.Error(t, manager.Resume("bogus", nil))
}

func Test_Manager_Cleanup_PurgesTerminalReceipts(t *testing.T) {
	manager, _ := testManager(t, time.Hour, 30*time.Millisecond)

	receipt, err := manager.New("ok", "")
	require.NoError(t, err)

	waitFor(t, time.Second, receipt.Finished)
	waitFor(t, time.Second, func() bool { return !manager.IsValidReceiptID(receipt.ID()) })
}

func Test_Manager_DiscardClient(t *testing.T) {
	manager, _ := testManager(t, time.Hour, time.Hour)

	future := model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	})

	receipt, err := manager.New(future, "c1")
	require.NoError(t, err)

	manager.DiscardClient("c1")
	assert.Empty(t, receipt.ClientsToNotify())
}
