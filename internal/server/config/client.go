package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"

	"golang.org/x/crypto/ssh"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// pubkeyPattern matches an OpenSSH-formatted ed25519 public key, with or
// without the leading "ssh-ed25519" type token and trailing comment.
var pubkeyPattern = regexp.MustCompile(`^(?:ssh-ed25519\s+)?([A-Za-z0-9+/]+={0,2})(?:\s.*)?$`)

// ClientConnection is one downstream host the server pushes certs to.
type ClientConnection struct {
	Address  string
	Port     int
	Username string
	Pubkey   string
	Domains  []string
	Path     string

	NeedsChain     bool
	NeedsFullchain bool
	NeedsPrivkey   bool

	// PushRetries and PushRetryInterval are per-client overrides. nil means
	// "use the server default".
	PushRetries        *int
	PushRetryInterval  *int

	// AuthorizedKey is the parsed form of Pubkey, pinned as the only
	// acceptable host key when the push worker dials this client.
	AuthorizedKey ssh.PublicKey

	// Identity is the hex SHA-1 of username|address|port, used as the
	// queue de-duplication key.
	Identity string
}

type clientConnectionYAML struct {
	Address            string   `yaml:"address"`
	Port               int      `yaml:"port"`
	Username           string   `yaml:"username"`
	Pubkey             string   `yaml:"pubkey"`
	Domains            []string `yaml:"domains"`
	Path               string   `yaml:"path"`
	NeedsChain         bool     `yaml:"needs_chain"`
	NeedsFullchain     *bool    `yaml:"needs_fullchain"`
	NeedsPrivkey       *bool    `yaml:"needs_privkey"`
	PushRetries        *int     `yaml:"push_retries"`
	PushRetryInterval  *int     `yaml:"push_retry_interval"`
}

func newClientConnection(raw clientConnectionYAML) (*ClientConnection, error) {
	if raw.Address == "" {
		return nil, certdeploy.ConfigInvalid("address", raw.Address, "be set")
	}
	if len(raw.Domains) == 0 {
		return nil, certdeploy.ConfigInvalid("domains", raw.Domains, "have at least one domain")
	}

	key, err := parsePubkey(raw.Pubkey)
	if err != nil {
		return nil, certdeploy.ConfigInvalid("pubkey", raw.Pubkey, "be a valid ed25519 OpenSSH public key")
	}

	port := raw.Port
	if port == 0 {
		port = certdeploy.DefaultPort
	}
	username := raw.Username
	if username == "" {
		username = certdeploy.DefaultUsername
	}
	path := raw.Path
	if path == "" {
		path = certdeploy.DefaultClientSourceDir
	}

	needsFullchain := true
	if raw.NeedsFullchain != nil {
		needsFullchain = *raw.NeedsFullchain
	}
	needsPrivkey := true
	if raw.NeedsPrivkey != nil {
		needsPrivkey = *raw.NeedsPrivkey
	}

	if raw.PushRetries != nil && *raw.PushRetries < 0 {
		return nil, certdeploy.ConfigInvalidNumber("push_retries", *raw.PushRetries, "greater than or equal to 0")
	}
	if raw.PushRetryInterval != nil && *raw.PushRetryInterval < 0 {
		return nil, certdeploy.ConfigInvalidNumber("push_retry_interval", *raw.PushRetryInterval, "greater than or equal to 0")
	}

	return &ClientConnection{
		Address:           raw.Address,
		Port:              port,
		Username:          username,
		Pubkey:            raw.Pubkey,
		Domains:           raw.Domains,
		Path:              path,
		NeedsChain:        raw.NeedsChain,
		NeedsFullchain:    needsFullchain,
		NeedsPrivkey:      needsPrivkey,
		PushRetries:       raw.PushRetries,
		PushRetryInterval: raw.PushRetryInterval,
		AuthorizedKey:     key,
		Identity:          identityHash(username, raw.Address, port),
	}, nil
}

func parsePubkey(raw string) (ssh.PublicKey, error) {
	match := pubkeyPattern.FindStringSubmatch(raw)
	if match == nil {
		return nil, fmt.Errorf("not a recognizable ed25519 public key")
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte("ssh-ed25519 " + match[1]))
	if err != nil {
		return nil, err
	}
	if key.Type() != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("only ed25519 keys are accepted, got %s", key.Type())
	}
	return key, nil
}

func identityHash(username, address string, port int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d", username, address, port)))
	return hex.EncodeToString(sum[:])
}

// String renders the client the way the push worker would address it, for
// logging.
func (c *ClientConnection) String() string {
	return fmt.Sprintf("%s@[%s]:%d", c.Username, c.Address, c.Port)
}

// RetriesOr returns the client's push_retries override, or fall.
func (c *ClientConnection) RetriesOr(fall int) int {
	if c.PushRetries != nil {
		return *c.PushRetries
	}
	return fall
}

// RetryIntervalOr returns the client's push_retry_interval override, or fall.
func (c *ClientConnection) RetryIntervalOr(fall int) int {
	if c.PushRetryInterval != nil {
		return *c.PushRetryInterval
	}
	return fall
}

// MatchesDomains reports whether any of domains intersects c.Domains.
func (c *ClientConnection) MatchesDomains(domains []string) bool {
	for _, want := range domains {
		for _, have := range c.Domains {
			if want == have {
				return true
			}
		}
	}
	return false
}
