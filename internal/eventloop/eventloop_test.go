package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/grabarbiter/internal/arbiter"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

func newEngine(t *testing.T) *arbiter.Engine {
	t.Helper()
	devices := input.NewDevices()
	require.NoError(t, devices.Add(&input.Device{ID: 2, Name: "pointer", Use: input.MasterPointer, Buttons: true}))
	tree := input.NewTree(&input.Window{ID: 0x100, Width: 100, Height: 100, Realized: true})
	return arbiter.New(devices, tree, input.DelivererFunc(func(input.Delivery) {}), arbiter.DefaultOptions())
}

func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop := New("arbiter", newEngine(t))
	sup := NewSupervisor("test")
	Add(sup, loop)

	ctx, cancel := context.WithCancel(context.Background())
	errc := sup.ServeBackground(ctx)
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return loop
}

func TestLoopDo(t *testing.T) {
	loop := startLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("runs against the engine", func(t *testing.T) {
		var got *arbiter.Engine
		require.NoError(t, loop.Do(ctx, func(e *arbiter.Engine) error {
			got = e
			return nil
		}))
		assert.Same(t, loop.engine, got)
	})

	t.Run("returns the function's error", func(t *testing.T) {
		err := loop.Do(ctx, func(e *arbiter.Engine) error {
			return e.DisableDevice(99)
		})
		assert.Error(t, err)
	})

	t.Run("recovers panics", func(t *testing.T) {
		err := loop.Do(ctx, func(*arbiter.Engine) error { panic("boom") })
		assert.ErrorIs(t, err, ErrPanic)
		require.NoError(t, loop.Do(ctx, func(*arbiter.Engine) error { return nil }))
	})

	assert.Equal(t, uint64(4), loop.Processed())
}

func TestLoopSerializes(t *testing.T) {
	loop := startLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		wg      sync.WaitGroup
		running int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, loop.Do(ctx, func(*arbiter.Engine) error {
				running++
				if running > 1 {
					overlap = true
				}
				time.Sleep(time.Millisecond)
				running--
				return nil
			}))
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
	assert.Equal(t, uint64(20), loop.Processed())
}

func TestDoWithoutServe(t *testing.T) {
	loop := New("idle", newEngine(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := loop.Do(ctx, func(*arbiter.Engine) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, loop.Processed())
}

func TestSanitizeError(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name        string
		ctx         context.Context
		err         error
		wantNil     bool
		wantContext bool
		wantRestart bool
	}{
		{name: "nil", ctx: live, err: nil, wantNil: true},
		{name: "plain error", ctx: live, err: errors.New("bad"), wantRestart: true},
		{name: "context done", ctx: done, err: errors.New("bad"), wantContext: true, wantRestart: true},
		{name: "stray cancel", ctx: live, err: context.Canceled, wantRestart: true},
		{name: "stray cancel without restart", ctx: live, err: errors.Join(context.Canceled, suture.ErrDoNotRestart)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SanitizeError(tt.ctx, tt.err)
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantContext, errors.Is(err, context.Canceled))
			assert.Equal(t, tt.wantRestart, !errors.Is(err, suture.ErrDoNotRestart))
		})
	}
}
