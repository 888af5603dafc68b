package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/haxwithaxe/certdeploy-go/internal/client/config"
)

const fakeCert = "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"

func stageLineage(t *testing.T, source, name, content string) {
	t.Helper()
	dir := filepath.Join(source, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fullchain.pem"), []byte(content), 0o644))
}

func newTestCoordinator(t *testing.T, delay time.Duration, countFile string) (*Coordinator, string) {
	t.Helper()
	source := t.TempDir()
	dest := t.TempDir()
	scriptDir := t.TempDir()

	script := filepath.Join(scriptDir, "count.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho x >> "+countFile+"\n"), 0o755))

	cfg := &config.Config{
		Source:        source,
		Destination:   dest,
		UpdateDelay:   delay,
		ScriptTimeout: 5,
		UpdateServices: []*config.Service{
			{Kind: config.KindScript, Script: script, ResolvedScript: script},
		},
	}
	return New(cfg, hclog.NewNullLogger()), source
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestCoordinatorCoalescesRapidPushes(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	c, source := newTestCoordinator(t, 150*time.Millisecond, countFile)

	stageLineage(t, source, "a.test", fakeCert)
	require.NoError(t, c.HandlePush(context.Background()))

	stageLineage(t, source, "a.test", fakeCert+"x")
	require.NoError(t, c.HandlePush(context.Background()))

	time.Sleep(400 * time.Millisecond)
	require.Equal(t, 1, countLines(t, countFile))
}

func TestCoordinatorNoOpWhenNothingMoved(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	c, source := newTestCoordinator(t, 50*time.Millisecond, countFile)

	stageLineage(t, source, "a.test", fakeCert)
	require.NoError(t, c.HandlePush(context.Background()))

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, countLines(t, countFile))

	// Nothing new staged: a second HandlePush should promote nothing and
	// arm no further pass.
	require.NoError(t, c.HandlePush(context.Background()))
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, countLines(t, countFile))
}

func TestCoordinatorRearmsDuringInFlightPass(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	source := t.TempDir()
	dest := t.TempDir()
	scriptDir := t.TempDir()

	// The script sleeps briefly so the test can push again while the
	// first pass is still in flight.
	script := filepath.Join(scriptDir, "count.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho x >> "+countFile+"\nsleep 0.2\n"), 0o755))

	cfg := &config.Config{
		Source:        source,
		Destination:   dest,
		UpdateDelay:   20 * time.Millisecond,
		ScriptTimeout: 5,
		UpdateServices: []*config.Service{
			{Kind: config.KindScript, Script: script, ResolvedScript: script},
		},
	}
	c := New(cfg, hclog.NewNullLogger())

	stageLineage(t, source, "a.test", fakeCert)
	require.NoError(t, c.HandlePush(context.Background()))

	// Let the first pass start (it'll be mid-sleep by now), then push
	// again so it coalesces into a second pass once the first finishes.
	time.Sleep(60 * time.Millisecond)
	stageLineage(t, source, "a.test", fakeCert+"more")
	require.NoError(t, c.HandlePush(context.Background()))

	time.Sleep(500 * time.Millisecond)
	require.Equal(t, 2, countLines(t, countFile))
}
