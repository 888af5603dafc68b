package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// PushMode controls how the dispatcher fans pushes out to clients.
type PushMode string

const (
	PushModeSerial   PushMode = "serial"
	PushModeParallel PushMode = "parallel"
)

func (m PushMode) Valid() bool {
	return m == PushModeSerial || m == PushModeParallel
}

var renewUnits = map[string]bool{
	"minute": true, "hour": true, "day": true, "week": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// Config is the server daemon's top-level configuration.
type Config struct {
	PrivkeyFilename string
	Clients         []*ClientConnection

	FailFast bool

	LogLevel         certdeploy.LogLevel
	LogFilename      string
	SFTPLogLevel     certdeploy.LogLevel
	SFTPLogFilename  string

	RenewEvery   int
	RenewUnit    string
	RenewAt      string
	RenewExec    string
	RenewArgs    []string
	RenewTimeout *int

	PushMode           PushMode
	PushInterval       int
	PushRetries        int
	PushRetryInterval  int
	JoinTimeout        *float64

	QueueDir string
}

type configYAML struct {
	PrivkeyFilename   string                  `yaml:"privkey_filename"`
	ClientConfigs     []clientConnectionYAML  `yaml:"client_configs"`
	FailFast          bool                    `yaml:"fail_fast"`
	LogLevel          string                  `yaml:"log_level"`
	LogFilename       string                  `yaml:"log_filename"`
	SFTPLogLevel      string                  `yaml:"sftp_log_level"`
	SFTPLogFilename   string                  `yaml:"sftp_log_filename"`
	RenewEvery        int                     `yaml:"renew_every"`
	RenewUnit         string                  `yaml:"renew_unit"`
	RenewAt           string                  `yaml:"renew_at"`
	RenewExec         string                  `yaml:"renew_exec"`
	RenewArgs         []string                `yaml:"renew_args"`
	RenewTimeout      *int                    `yaml:"renew_timeout"`
	PushMode          string                  `yaml:"push_mode"`
	PushInterval      *int                    `yaml:"push_interval"`
	PushRetries       *int                    `yaml:"push_retries"`
	PushRetryInterval *int                    `yaml:"push_retry_interval"`
	JoinTimeout       *float64                `yaml:"join_timeout"`
	QueueDir          string                  `yaml:"queue_dir"`
}

// newConfig validates a decoded YAML document into a Config. probeWritable
// is a seam so tests can skip the real filesystem writability probe.
func newConfig(raw configYAML, probeWritable bool) (*Config, error) {
	if raw.PrivkeyFilename == "" {
		return nil, certdeploy.ConfigInvalidPath("privkey_filename", raw.PrivkeyFilename, "exist")
	}
	if info, err := os.Stat(raw.PrivkeyFilename); err != nil || info.IsDir() {
		return nil, certdeploy.ConfigInvalidPath("privkey_filename", raw.PrivkeyFilename, "be a file that exists")
	}

	queueDir := raw.QueueDir
	if queueDir == "" {
		queueDir = certdeploy.DefaultServerQueueDir
	}
	if info, err := os.Stat(queueDir); err != nil || !info.IsDir() {
		return nil, certdeploy.ConfigInvalidPath("queue_dir", queueDir, "be a directory that exists")
	}
	if probeWritable {
		probe := filepath.Join(queueDir, "test")
		if err := os.WriteFile(probe, nil, 0o600); err != nil {
			return nil, certdeploy.ConfigInvalidPath("queue_dir", queueDir, "exist and be a directory writable by CertDeploy")
		}
		os.Remove(probe)
	}

	logLevel, err := certdeploy.ParseLogLevel(raw.LogLevel)
	if err != nil {
		return nil, certdeploy.ConfigInvalid("log_level", raw.LogLevel, "be a valid log level")
	}
	sftpLogLevel, err := certdeploy.ParseLogLevel(raw.SFTPLogLevel)
	if err != nil {
		return nil, certdeploy.ConfigInvalid("sftp_log_level", raw.SFTPLogLevel, "be a valid log level")
	}

	pushMode := PushMode(strings.ToLower(raw.PushMode))
	if pushMode == "" {
		pushMode = PushModeSerial
	}
	if !pushMode.Valid() {
		return nil, certdeploy.ConfigInvalidChoice("push_mode", raw.PushMode, []string{"serial", "parallel"})
	}

	pushInterval := intOr(raw.PushInterval, 0)
	if pushInterval < 0 {
		return nil, certdeploy.ConfigInvalidNumber("push_interval", pushInterval, "greater than or equal to 0")
	}
	pushRetries := intOr(raw.PushRetries, 1)
	if pushRetries < 0 {
		return nil, certdeploy.ConfigInvalidNumber("push_retries", pushRetries, "greater than or equal to 0")
	}
	pushRetryInterval := intOr(raw.PushRetryInterval, 30)
	if pushRetryInterval < 0 {
		return nil, certdeploy.ConfigInvalidNumber("push_retry_interval", pushRetryInterval, "greater than or equal to 0")
	}
	if raw.JoinTimeout != nil && *raw.JoinTimeout < 0 {
		return nil, certdeploy.ConfigInvalidNumber("join_timeout", *raw.JoinTimeout, "greater than or equal to 0")
	}

	renewEvery := raw.RenewEvery
	if renewEvery == 0 {
		renewEvery = 1
	}
	if renewEvery < 1 {
		return nil, certdeploy.ConfigInvalidNumber("renew_every", renewEvery, "greater than 0")
	}
	renewUnit := raw.RenewUnit
	if renewUnit == "" {
		renewUnit = "day"
	}
	renewUnit, err = normalizeRenewUnit(renewUnit, renewEvery)
	if err != nil {
		return nil, err
	}
	if raw.RenewTimeout != nil && *raw.RenewTimeout < 0 {
		return nil, certdeploy.ConfigInvalidNumber("renew_timeout", *raw.RenewTimeout, "greater than or equal to 0")
	}
	renewExec := raw.RenewExec
	if renewExec == "" {
		renewExec = "certbot"
	}
	renewArgs := raw.RenewArgs
	if renewArgs == nil {
		renewArgs = []string{"renew"}
	}

	clients := make([]*ClientConnection, 0, len(raw.ClientConfigs))
	for i, rawClient := range raw.ClientConfigs {
		client, err := newClientConnection(rawClient)
		if err != nil {
			return nil, fmt.Errorf("client_configs[%d]: %w", i, err)
		}
		clients = append(clients, client)
	}

	return &Config{
		PrivkeyFilename:   raw.PrivkeyFilename,
		Clients:           clients,
		FailFast:          raw.FailFast,
		LogLevel:          logLevel,
		LogFilename:       raw.LogFilename,
		SFTPLogLevel:      sftpLogLevel,
		SFTPLogFilename:   raw.SFTPLogFilename,
		RenewEvery:        renewEvery,
		RenewUnit:         renewUnit,
		RenewAt:           raw.RenewAt,
		RenewExec:         renewExec,
		RenewArgs:         renewArgs,
		RenewTimeout:      raw.RenewTimeout,
		PushMode:          pushMode,
		PushInterval:      pushInterval,
		PushRetries:       pushRetries,
		PushRetryInterval: pushRetryInterval,
		JoinTimeout:       raw.JoinTimeout,
		QueueDir:          queueDir,
	}, nil
}

// normalizeRenewUnit lowercases unit and pluralizes it (matching gocron's
// Every(n).Days()-style builder) unless every == 1. A weekday name combined
// with every != 1 is rejected (a job can't fire "every 2 mondays").
func normalizeRenewUnit(unit string, every int) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(unit))
	if !renewUnits[norm] {
		return "", certdeploy.ConfigError("`renew_unit` needs to be a day of the week or an interval unit (minute, hour, day, week) not: %s", unit)
	}
	if weekdays[norm] && every != 1 {
		return "", certdeploy.ConfigInvalid("renew_unit", unit, "not be a weekday if `renew_every` is set and not 1")
	}
	if every != 1 {
		return norm + "s", nil
	}
	return norm, nil
}

func intOr(v *int, fall int) int {
	if v == nil {
		return fall
	}
	return *v
}
