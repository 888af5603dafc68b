package config

import (
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// SFTPDConfig configures the embedded SFTP endpoint that receives pushed
// lineages from the server.
type SFTPDConfig struct {
	ListenAddress   string
	ListenPort      int
	Username        string
	PrivkeyFilename string
	ServerPubkey    ssh.PublicKey
	LogLevel        certdeploy.LogLevel
	LogFilename     string
	SocketBacklog   int
}

type sftpdYAML struct {
	ListenAddress       string `yaml:"listen_address"`
	ListenPort          int    `yaml:"listen_port"`
	Username            string `yaml:"username"`
	PrivkeyFilename     string `yaml:"privkey_filename"`
	ServerPubkey        string `yaml:"server_pubkey"`
	ServerPubkeyFilename string `yaml:"server_pubkey_filename"`
	LogLevel            string `yaml:"log_level"`
	LogFilename         string `yaml:"log_filename"`
	SocketBacklog       int    `yaml:"socket_backlog"`
}

func newSFTPDConfig(raw sftpdYAML) (SFTPDConfig, error) {
	var cfg SFTPDConfig

	cfg.ListenAddress = raw.ListenAddress
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0"
	}
	cfg.ListenPort = raw.ListenPort
	if cfg.ListenPort == 0 {
		cfg.ListenPort = certdeploy.DefaultPort
	}
	cfg.Username = raw.Username
	if cfg.Username == "" {
		cfg.Username = certdeploy.DefaultUsername
	}

	if raw.PrivkeyFilename == "" {
		return cfg, certdeploy.ConfigInvalidPath("sftpd.privkey_filename", raw.PrivkeyFilename, "be set")
	}
	if info, err := os.Stat(raw.PrivkeyFilename); err != nil || info.IsDir() {
		return cfg, certdeploy.ConfigInvalidPath("sftpd.privkey_filename", raw.PrivkeyFilename, "be a file that exists")
	}
	cfg.PrivkeyFilename = raw.PrivkeyFilename

	pubkeyRaw := raw.ServerPubkey
	if pubkeyRaw == "" && raw.ServerPubkeyFilename != "" {
		data, err := os.ReadFile(raw.ServerPubkeyFilename)
		if err != nil {
			return cfg, certdeploy.ConfigInvalidPath("sftpd.server_pubkey_filename", raw.ServerPubkeyFilename, "exist and be readable")
		}
		pubkeyRaw = string(data)
	}
	if pubkeyRaw == "" {
		return cfg, certdeploy.ConfigError("sftpd: one of `server_pubkey` or `server_pubkey_filename` must be set")
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyRaw))
	if err != nil {
		return cfg, certdeploy.ConfigInvalid("sftpd.server_pubkey", pubkeyRaw, "be a valid authorized_keys-format public key")
	}
	cfg.ServerPubkey = key

	logLevel, err := certdeploy.ParseLogLevel(raw.LogLevel)
	if err != nil {
		return cfg, certdeploy.ConfigInvalid("sftpd.log_level", raw.LogLevel, "be a valid log level")
	}
	cfg.LogLevel = logLevel
	cfg.LogFilename = raw.LogFilename

	cfg.SocketBacklog = raw.SocketBacklog
	if cfg.SocketBacklog == 0 {
		cfg.SocketBacklog = 10
	}
	if cfg.SocketBacklog < 0 {
		return cfg, certdeploy.ConfigInvalidNumber("sftpd.socket_backlog", cfg.SocketBacklog, "greater than or equal to 0")
	}

	return cfg, nil
}
