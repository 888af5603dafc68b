// Package push drives the server's per-client delivery of a staged
// certificate lineage over SSH/SFTP, with retry.
package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
	"github.com/haxwithaxe/certdeploy-go/internal/metrics"
	"github.com/haxwithaxe/certdeploy-go/internal/server/config"
)

// Job is one (client, lineage) delivery.
type Job struct {
	Client      *config.ClientConnection
	LineagePath string
	LineageName string
}

// Dialer opens an authenticated SSH connection to a client, pinning the
// client's recorded public key as the only acceptable host key. It's a
// seam so tests can substitute an in-process server.
type Dialer func(ctx context.Context, client *config.ClientConnection, signer ssh.Signer) (*ssh.Client, error)

// Worker delivers one job at a time, retrying on transport failure.
type Worker struct {
	signer ssh.Signer
	dial   Dialer
	logger hclog.Logger

	retries       int
	retryInterval int
	failFast      bool
}

// NewWorker builds a Worker that signs with the server's host key (parsed
// from privkeyFilename) and falls back to retries/retryInterval for any
// client that doesn't override them. Under failFast, retries are suppressed
// entirely: a dead client gets exactly one connection attempt, so the
// dispatcher's first-failure-is-fatal propagation (§8 scenario S2) isn't
// delayed behind push_retries attempts and their retry_interval sleeps.
func NewWorker(privkeyFilename string, retries, retryInterval int, failFast bool, logger hclog.Logger) (*Worker, error) {
	data, err := os.ReadFile(privkeyFilename)
	if err != nil {
		return nil, fmt.Errorf("reading server private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing server private key: %w", err)
	}
	return &Worker{
		signer:        signer,
		dial:          dialSSH,
		logger:        logger,
		retries:       retries,
		retryInterval: retryInterval,
		failFast:      failFast,
	}, nil
}

// Deliver uploads the needs_* subset of the lineage's files to job.Client,
// retrying up to the client's push_retries override (or the worker default)
// on transport failure. Under fail_fast, retries are suppressed and a single
// failed attempt is terminal. It returns a TransportError on terminal
// failure.
func (w *Worker) Deliver(ctx context.Context, job Job) error {
	metrics.IncrCounter(metrics.PushesAttempted)
	retries := job.Client.RetriesOr(w.retries)
	if w.failFast {
		retries = 0
	}
	interval := job.Client.RetryIntervalOr(w.retryInterval)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			w.logger.Warn("retrying push", "client", job.Client.String(), "attempt", attempt)
			select {
			case <-ctx.Done():
				metrics.IncrCounter(metrics.PushesFailed)
				return certdeploy.TransportError(job.Client.Address, ctx.Err())
			case <-time.After(time.Duration(interval) * time.Second):
			}
		}
		if err := w.deliverOnce(ctx, job); err != nil {
			lastErr = err
			w.logger.Error("push attempt failed", "client", job.Client.String(), "attempt", attempt, "error", err)
			continue
		}
		metrics.IncrCounter(metrics.PushesSucceeded)
		w.logger.Info("push delivered", "client", job.Client.String(), "lineage", job.LineageName)
		return nil
	}
	metrics.IncrCounter(metrics.PushesFailed)
	return certdeploy.TransportError(job.Client.Address, lastErr)
}

func (w *Worker) deliverOnce(ctx context.Context, job Job) error {
	sshClient, err := w.dial(ctx, job.Client, w.signer)
	if err != nil {
		return err
	}
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	remoteDir := path.Join(filepath.ToSlash(job.Client.Path), job.LineageName)
	if err := mkdirAll(sftpClient, remoteDir); err != nil {
		return err
	}

	for _, name := range neededFiles(job.Client) {
		localPath := filepath.Join(job.LineagePath, name)
		data, err := os.ReadFile(localPath)
		if err != nil {
			return err
		}
		remotePath := path.Join(remoteDir, name)
		if err := writeRemote(sftpClient, remotePath, data); err != nil {
			return err
		}
	}
	return nil
}

func neededFiles(c *config.ClientConnection) []string {
	var want []string
	if c.NeedsChain {
		want = append(want, "chain.pem")
	}
	if c.NeedsFullchain {
		want = append(want, "fullchain.pem")
	}
	if c.NeedsPrivkey {
		want = append(want, "privkey.pem")
	}
	return want
}

// mkdirAll creates dir and any missing parents over SFTP at mode 0700,
// tolerating components that already exist.
func mkdirAll(client *sftp.Client, dir string) error {
	clean := path.Clean(dir)
	var parts []string
	for p := clean; p != "/" && p != "."; p = path.Dir(p) {
		parts = append(parts, p)
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if err := client.Mkdir(parts[i]); err != nil {
			if os.IsExist(err) {
				continue
			}
			if info, statErr := client.Stat(parts[i]); statErr == nil && info.IsDir() {
				continue
			}
			return err
		}
	}
	return nil
}

func writeRemote(client *sftp.Client, remotePath string, data []byte) error {
	f, err := client.Create(remotePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		return err
	}
	return nil
}

func dialSSH(ctx context.Context, c *config.ClientConnection, signer ssh.Signer) (*ssh.Client, error) {
	sshConfig := &ssh.ClientConfig{
		User:            c.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: pinnedHostKey(c.AuthorizedKey),
		Timeout:         10 * time.Second,
	}
	addr := net.JoinHostPort(c.Address, fmt.Sprint(c.Port))
	d := net.Dialer{Timeout: sshConfig.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// pinnedHostKey rejects any host key other than the one recorded for this
// client, the reject-on-unknown policy the push worker dials under.
func pinnedHostKey(want ssh.PublicKey) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if want == nil || key.Type() != want.Type() || string(key.Marshal()) != string(want.Marshal()) {
			return fmt.Errorf("host key mismatch for %s", hostname)
		}
		return nil
	}
}
