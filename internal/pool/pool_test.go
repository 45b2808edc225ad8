package pool

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidae-labs/chromefleet/internal/instance"
)

// skipCI skips tests that launch a real Chrome process.
func skipCI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
}

func testConfig() Config {
	return Config{
		MinInstances:        0,
		MaxInstances:        2,
		WarmInstances:       0,
		InstanceTTL:         time.Hour,
		HealthCheckInterval: time.Minute,
		AcquireTimeout:      5 * time.Second,
	}
}

func TestCompatible(t *testing.T) {
	a := instance.Options{Headless: true, Extensions: []string{"/ext/a", "/ext/b"}}
	b := instance.Options{Headless: true, Extensions: []string{"/ext/b", "/ext/a"}}
	assert.True(t, compatible(a, b), "same headless flag and extension set, different order, should match")

	c := instance.Options{Headless: false, Extensions: []string{"/ext/a", "/ext/b"}}
	assert.False(t, compatible(a, c), "differing headless flag must not match")

	d := instance.Options{Headless: true, Extensions: []string{"/ext/a"}}
	assert.False(t, compatible(a, d), "differing extension set must not match")
}

func TestWaiterQueueFIFO(t *testing.T) {
	p := &Pool{}

	ch1 := p.enqueueWaiter(false)
	ch2 := p.enqueueWaiter(false)
	ch3 := p.enqueueWaiter(false)

	p.signalOneWaiter()
	select {
	case <-ch1:
	default:
		t.Fatal("expected first enqueued waiter to be signalled first")
	}
	select {
	case <-ch2:
		t.Fatal("second waiter should not be signalled yet")
	default:
	}

	p.removeWaiter(ch2)
	p.signalOneWaiter()
	select {
	case <-ch3:
	default:
		t.Fatal("expected third waiter to be signalled after second was removed")
	}
}

func TestWaiterHeadReinsertion(t *testing.T) {
	p := &Pool{}
	tail := p.enqueueWaiter(false)
	head := p.enqueueWaiter(true)

	p.signalOneWaiter()
	select {
	case <-head:
	default:
		t.Fatal("head-reinserted waiter should be signalled before the original tail waiter")
	}
	select {
	case <-tail:
		t.Fatal("tail waiter should still be waiting")
	default:
	}
}

func TestAcquireOnClosedPool(t *testing.T) {
	p := &Pool{closed: true, inUse: map[string]*instance.Instance{}, all: map[string]*instance.Instance{}}
	_, err := p.Acquire(context.Background(), nil)
	assert.Error(t, err)
}

func TestPoolLifecycle(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	defaults := instance.Options{Headless: true}
	p, err := New(context.Background(), cfg, defaults, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close(context.Background())

	inst, err := p.Acquire(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Size())

	p.Release(context.Background(), inst)
	assert.Equal(t, 1, p.Available())
}

func TestAcquireTimesOutAtCapacity(t *testing.T) {
	skipCI(t)

	cfg := testConfig()
	cfg.MaxInstances = 1
	cfg.AcquireTimeout = 300 * time.Millisecond
	defaults := instance.Options{Headless: true}
	p, err := New(context.Background(), cfg, defaults, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close(context.Background())

	_, err = p.Acquire(context.Background(), nil)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), nil)
	assert.Error(t, err)
}
