package update

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// runCommand runs name with args, capturing combined stdout/stderr, bounded
// by timeout (<= 0 means wait indefinitely). It returns the captured
// output alongside whatever error exec/the process produced, since error
// kinds in this package want to report output even on failure.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}
