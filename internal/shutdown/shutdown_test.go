package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_CallbacksRunInReverseOrder(t *testing.T) {
	h := New(Config{Timeout: time.Second})

	var order []string
	h.RegisterFunc("first", func() { order = append(order, "first") })
	h.RegisterFunc("second", func() { order = append(order, "second") })
	h.RegisterFunc("third", func() { order = append(order, "third") })

	errs := h.Shutdown()
	assert.Empty(t, errs)
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestHandler_ContextCancelledOnShutdown(t *testing.T) {
	h := New(Config{Timeout: time.Second})

	require.NoError(t, h.Context().Err())
	h.Shutdown()
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)
}

func TestHandler_CallbackErrorsCollected(t *testing.T) {
	h := New(Config{Timeout: time.Second})

	boom := errors.New("close failed")
	h.Register("ok", func(ctx context.Context) error { return nil })
	h.Register("bad", func(ctx context.Context) error { return boom })

	errs := h.Shutdown()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestHandler_CallbackTimeout(t *testing.T) {
	h := New(Config{Timeout: 50 * time.Millisecond})

	h.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(5 * time.Second)
		return nil
	})

	done := make(chan []error, 1)
	go func() { done <- h.Shutdown() }()

	select {
	case errs := <-done:
		require.Len(t, errs, 1)
		var timeoutErr *TimeoutError
		require.ErrorAs(t, errs[0], &timeoutErr)
		assert.Equal(t, "slow", timeoutErr.CallbackName)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not respect the callback timeout")
	}
}

func TestHandler_Trigger(t *testing.T) {
	h := New(Config{Timeout: time.Second})

	ran := make(chan struct{})
	h.RegisterFunc("mark", func() { close(ran) })

	h.Trigger()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered shutdown never ran callbacks")
	}
	<-h.Done()
	assert.True(t, h.IsShuttingDown())
}

func TestHandler_ShutdownIsIdempotent(t *testing.T) {
	h := New(Config{Timeout: time.Second})

	calls := 0
	h.RegisterFunc("count", func() { calls++ })

	h.Shutdown()
	h.Shutdown()
	assert.Equal(t, 1, calls)
}
