package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestCheckNotifiesOnlyOnChange(t *testing.T) {
	p := &fakePinger{}
	c := NewChecker(p, time.Second)

	var seen []bool
	c.OnChange(func(serving bool) { seen = append(seen, serving) })

	require.NoError(t, c.Check(context.Background()))
	require.NoError(t, c.Check(context.Background()))

	p.set(errors.New("connection refused"))
	assert.Error(t, c.Check(context.Background()))
	assert.Error(t, c.Check(context.Background()))

	p.set(nil)
	require.NoError(t, c.Check(context.Background()))

	assert.Equal(t, []bool{true, false, true}, seen)

	at, err := c.Last()
	assert.NoError(t, err)
	assert.False(t, at.IsZero())
}

func TestRunStopsOnCancel(t *testing.T) {
	p := &fakePinger{}
	c := NewChecker(p, time.Second)

	var calls atomic.Int32
	c.OnChange(func(bool) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
