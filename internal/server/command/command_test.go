package command

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestBadFlagReturnsError(t *testing.T) {
	ui := cli.NewMockUi()
	c := New(context.Background(), ui, &bytes.Buffer{})
	require.Equal(t, 1, c.Run([]string{"-not-a-flag"}))
}

func TestDaemonMutuallyExclusiveWithLineage(t *testing.T) {
	ui := cli.NewMockUi()
	c := New(context.Background(), ui, &bytes.Buffer{})
	code := c.Run([]string{"-daemon", "-lineage", "/lineages/a.test"})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "cannot be combined")
}

func TestDaemonMutuallyExclusiveWithDomains(t *testing.T) {
	ui := cli.NewMockUi()
	c := New(context.Background(), ui, &bytes.Buffer{})
	code := c.Run([]string{"-daemon", "-domains", "a.test"})
	require.Equal(t, 1, code)
}

func TestMissingLineageAndDomainsWithoutPushIsError(t *testing.T) {
	cfgPath := writeServerConfig(t, nil)
	ui := cli.NewMockUi()
	c := New(context.Background(), ui, &bytes.Buffer{})
	code := c.Run([]string{"-config", cfgPath})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "--lineage and --domains")
}

func TestRenewOnlyRunsRenewalAndExits(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	cfgPath := writeServerConfig(t, map[string]string{
		"renew_exec": "/bin/sh",
		"renew_args": fmt.Sprintf("[\"-c\", \"echo done > %s\"]", marker),
	})

	ui := cli.NewMockUi()
	c := New(context.Background(), ui, &bytes.Buffer{})
	code := c.Run([]string{"-config", cfgPath, "-renew"})
	require.Equal(t, 0, code)

	_, err := os.Stat(marker)
	require.NoError(t, err)
}

func TestEnqueueWithoutPushPersistsQueueItemAndSkipsDispatch(t *testing.T) {
	queueDir := t.TempDir()
	clientKey := mustEd25519AuthorizedKey(t)
	cfgPath := writeServerConfig(t, map[string]string{
		"queue_dir": queueDir,
		"client_configs": fmt.Sprintf(`
  - address: 127.0.0.1
    port: 2222
    pubkey: "%s"
    domains: ["a.test"]`, clientKey),
	})

	lineageDir := filepath.Join(t.TempDir(), "a.test")
	require.NoError(t, os.MkdirAll(lineageDir, 0o755))

	ui := cli.NewMockUi()
	c := New(context.Background(), ui, &bytes.Buffer{})
	code := c.Run([]string{"-config", cfgPath, "-lineage", lineageDir, "-domains", "a.test"})
	require.Equal(t, 0, code)

	entries, err := os.ReadDir(queueDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(queueDir, entries[0].Name()))
	require.NoError(t, err)
	var item struct {
		LineageName string `json:"lineage_name"`
	}
	require.NoError(t, json.Unmarshal(data, &item))
	require.Equal(t, "a.test", item.LineageName)
}

func TestPushAloneWithEmptyQueueSucceeds(t *testing.T) {
	cfgPath := writeServerConfig(t, nil)
	ui := cli.NewMockUi()
	c := New(context.Background(), ui, &bytes.Buffer{})
	code := c.Run([]string{"-config", cfgPath, "-push"})
	require.Equal(t, 0, code)
}

// writeServerConfig writes a minimal valid server config YAML to a temp file
// and returns its path. overrides are inserted as raw YAML lines, replacing
// the defaulted key entirely when the same key is present.
func writeServerConfig(t *testing.T, overrides map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	privkeyPath := filepath.Join(dir, "server_hostkey")
	writeRSAPrivateKeyPEM(t, privkeyPath)

	queueDir := overrides["queue_dir"]
	if queueDir == "" {
		queueDir = t.TempDir()
	}

	body := fmt.Sprintf("privkey_filename: %q\nqueue_dir: %q\n", privkeyPath, queueDir)
	for k, v := range overrides {
		if k == "queue_dir" {
			continue
		}
		if k == "client_configs" {
			body += "client_configs:" + v + "\n"
			continue
		}
		body += fmt.Sprintf("%s: %s\n", k, v)
	}

	path := filepath.Join(dir, "server.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writeRSAPrivateKeyPEM(t *testing.T, path string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
}

func mustEd25519AuthorizedKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	line := string(ssh.MarshalAuthorizedKey(sshPub))
	return line[:len(line)-1] // drop trailing newline
}
