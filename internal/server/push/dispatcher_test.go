package push

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxwithaxe/certdeploy-go/internal/server/config"
)

type recordingDeliverer struct {
	mu       sync.Mutex
	attempts []string
	starts   map[string]time.Time
	fail     map[string]bool
}

func newRecordingDeliverer(failFor ...string) *recordingDeliverer {
	fail := make(map[string]bool, len(failFor))
	for _, name := range failFor {
		fail[name] = true
	}
	return &recordingDeliverer{starts: map[string]time.Time{}, fail: fail}
}

func (r *recordingDeliverer) Deliver(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, job.Client.Address)
	r.starts[job.Client.Address] = time.Now()
	fail := r.fail[job.Client.Address]
	r.mu.Unlock()

	if fail {
		return fmt.Errorf("unreachable: %s", job.Client.Address)
	}
	return nil
}

func jobsFor(addrs ...string) []Job {
	jobs := make([]Job, len(addrs))
	for i, addr := range addrs {
		jobs[i] = Job{Client: &config.ClientConnection{Address: addr}, LineageName: "a.test"}
	}
	return jobs
}

func TestDispatchSerialStopsOnFailFast(t *testing.T) {
	deliverer := newRecordingDeliverer("b")
	cfg := &config.Config{PushMode: config.PushModeSerial, FailFast: true}
	d := NewDispatcher(deliverer, cfg, hclog.NewNullLogger())

	err := d.Dispatch(context.Background(), jobsFor("a", "b", "c"))
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, deliverer.attempts)
}

func TestDispatchSerialContinuesWithoutFailFast(t *testing.T) {
	deliverer := newRecordingDeliverer("b")
	cfg := &config.Config{PushMode: config.PushModeSerial, FailFast: false}
	d := NewDispatcher(deliverer, cfg, hclog.NewNullLogger())

	err := d.Dispatch(context.Background(), jobsFor("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, deliverer.attempts)
}

func TestDispatchSerialRespectsPushInterval(t *testing.T) {
	deliverer := newRecordingDeliverer()
	cfg := &config.Config{PushMode: config.PushModeSerial, PushInterval: 1}
	d := NewDispatcher(deliverer, cfg, hclog.NewNullLogger())

	start := time.Now()
	require.NoError(t, d.Dispatch(context.Background(), jobsFor("a", "b")))
	assert.GreaterOrEqual(t, time.Since(start), 1*time.Second)
}

func TestDispatchParallelAllRunDespiteFailure(t *testing.T) {
	deliverer := newRecordingDeliverer("b")
	cfg := &config.Config{PushMode: config.PushModeParallel, FailFast: true}
	d := NewDispatcher(deliverer, cfg, hclog.NewNullLogger())

	err := d.Dispatch(context.Background(), jobsFor("a", "b", "c"))
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, deliverer.attempts)
}

func TestDispatchParallelStartGapRespectsPushInterval(t *testing.T) {
	deliverer := newRecordingDeliverer()
	cfg := &config.Config{PushMode: config.PushModeParallel, PushInterval: 1}
	d := NewDispatcher(deliverer, cfg, hclog.NewNullLogger())

	require.NoError(t, d.Dispatch(context.Background(), jobsFor("a", "b")))

	deliverer.mu.Lock()
	gap := deliverer.starts["b"].Sub(deliverer.starts["a"])
	deliverer.mu.Unlock()
	assert.GreaterOrEqual(t, gap, 1*time.Second)
}

func TestDispatchParallelJoinTimeoutDoesNotBlockForever(t *testing.T) {
	slow := &blockingDeliverer{release: make(chan struct{})}
	timeout := 0.05
	cfg := &config.Config{PushMode: config.PushModeParallel, JoinTimeout: &timeout}
	d := NewDispatcher(slow, cfg, hclog.NewNullLogger())

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(context.Background(), jobsFor("a")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not return within join_timeout")
	}
	close(slow.release)
}

type blockingDeliverer struct {
	release chan struct{}
}

func (b *blockingDeliverer) Deliver(ctx context.Context, job Job) error {
	<-b.release
	return nil
}
