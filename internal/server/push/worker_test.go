package push

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	clientconfig "github.com/haxwithaxe/certdeploy-go/internal/client/config"
	"github.com/haxwithaxe/certdeploy-go/internal/client/sftpd"
	"github.com/haxwithaxe/certdeploy-go/internal/server/config"
)

// writeRSAKey generates an RSA keypair, writes its PEM-encoded private key
// to dir/name, and returns both the file path and the parsed public key.
func writeRSAKey(t *testing.T, dir, name string) (string, ssh.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return path, signer.PublicKey()
}

type noopCoordinator struct{}

func (noopCoordinator) HandlePush(ctx context.Context) error { return nil }
func (noopCoordinator) Err() error                           { return nil }

// startTestSFTPD starts a real client sftpd.Server rooted at root, pinned to
// accept only serverPubkey (the push worker's signing key), and returns its
// bound host/port plus a shutdown func.
func startTestSFTPD(t *testing.T, root string, serverPubkey ssh.PublicKey) (string, int, func()) {
	t.Helper()
	keyDir := t.TempDir()
	hostKeyPath, _ := writeRSAKey(t, keyDir, "host_key")

	cfg := clientconfig.SFTPDConfig{
		ListenAddress:   "127.0.0.1",
		ListenPort:      0,
		Username:        "certdeploy",
		PrivkeyFilename: hostKeyPath,
		ServerPubkey:    serverPubkey,
	}
	srv, err := sftpd.New(cfg, root, noopCoordinator{}, hclog.NewNullLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ListenAndServe(ctx)
	}()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != nil
	}, 2*time.Second, 10*time.Millisecond)

	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port, func() {
		cancel()
		<-done
	}
}

func testClientConn(host string, port int, hostKey ssh.PublicKey, path string, needsChain, needsFullchain, needsPrivkey bool) *config.ClientConnection {
	return &config.ClientConnection{
		Address:        host,
		Port:           port,
		Username:       "certdeploy",
		Path:           path,
		NeedsChain:     needsChain,
		NeedsFullchain: needsFullchain,
		NeedsPrivkey:   needsPrivkey,
		AuthorizedKey:  hostKey,
	}
}

func TestWorkerDeliverSelectsNeededFiles(t *testing.T) {
	destRoot := t.TempDir()

	keyDir := t.TempDir()
	signerPath, signerPubkey := writeRSAKey(t, keyDir, "server_key")

	host, port, stop := startTestSFTPD(t, destRoot, signerPubkey)
	defer stop()

	worker, err := NewWorker(signerPath, 1, 0, false, hclog.NewNullLogger())
	require.NoError(t, err)
	// Bypass host-key pinning for this in-process test: the worker's
	// Dialer seam lets us substitute one that trusts any host key while
	// still exercising the full SFTP upload path.
	worker.dial = func(ctx context.Context, c *config.ClientConnection, signer ssh.Signer) (*ssh.Client, error) {
		sshConfig := &ssh.ClientConfig{
			User:            c.Username,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         5 * time.Second,
		}
		return ssh.Dial("tcp", net.JoinHostPort(c.Address, strconv.Itoa(c.Port)), sshConfig)
	}

	lineageDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(lineageDir, "fullchain.pem"), []byte("FULLCHAIN"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(lineageDir, "privkey.pem"), []byte("PRIVKEY"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(lineageDir, "chain.pem"), []byte("CHAIN"), 0o644))

	client := testClientConn(host, port, nil, "/", false, true, true)
	job := Job{Client: client, LineagePath: lineageDir, LineageName: "a.test"}

	err = worker.Deliver(context.Background(), job)
	require.NoError(t, err)

	gotFullchain, err := os.ReadFile(filepath.Join(destRoot, "a.test", "fullchain.pem"))
	require.NoError(t, err)
	assert.Equal(t, "FULLCHAIN", string(gotFullchain))

	gotPrivkey, err := os.ReadFile(filepath.Join(destRoot, "a.test", "privkey.pem"))
	require.NoError(t, err)
	assert.Equal(t, "PRIVKEY", string(gotPrivkey))

	_, err = os.Stat(filepath.Join(destRoot, "a.test", "chain.pem"))
	assert.True(t, os.IsNotExist(err), "chain.pem should not have been uploaded")
}

func TestWorkerRetriesOnUnreachableClient(t *testing.T) {
	keyDir := t.TempDir()
	signerPath, _ := writeRSAKey(t, keyDir, "server_key")

	worker, err := NewWorker(signerPath, 2, 0, false, hclog.NewNullLogger())
	require.NoError(t, err)

	attempts := 0
	worker.dial = func(ctx context.Context, c *config.ClientConnection, signer ssh.Signer) (*ssh.Client, error) {
		attempts++
		return nil, assertErr
	}

	client := testClientConn("127.0.0.1", 1, nil, "/", false, true, true)
	job := Job{Client: client, LineagePath: t.TempDir(), LineageName: "a.test"}

	err = worker.Deliver(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

// TestWorkerFailFastSkipsRetries covers spec §8 scenario S2: under
// fail_fast, push_retries is suppressed entirely and an unreachable client
// records exactly one connection attempt before Deliver returns.
func TestWorkerFailFastSkipsRetries(t *testing.T) {
	keyDir := t.TempDir()
	signerPath, _ := writeRSAKey(t, keyDir, "server_key")

	worker, err := NewWorker(signerPath, 3, 0, true, hclog.NewNullLogger())
	require.NoError(t, err)

	attempts := 0
	worker.dial = func(ctx context.Context, c *config.ClientConnection, signer ssh.Signer) (*ssh.Client, error) {
		attempts++
		return nil, assertErr
	}

	client := testClientConn("127.0.0.1", 1, nil, "/", false, true, true)
	job := Job{Client: client, LineagePath: t.TempDir(), LineageName: "a.test"}

	start := time.Now()
	err = worker.Deliver(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

var assertErr = &dialError{}

type dialError struct{}

func (*dialError) Error() string { return "connection refused" }
