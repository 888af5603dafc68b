package config

import (
	"fmt"
	"os"
	"time"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// Config is the client daemon's top-level configuration.
type Config struct {
	Source      string
	Destination string

	SFTPD SFTPDConfig

	SystemdExec   string
	RCServiceExec string

	DockerURL     string
	DockerTimeout int

	InitTimeout   int
	ScriptTimeout int

	UpdateServices []*Service
	UpdateDelay    time.Duration
	FailFast       bool

	FilePermissions Permissions

	LogLevel    certdeploy.LogLevel
	LogFilename string
}

type configYAML struct {
	Source      string            `yaml:"source"`
	Destination string            `yaml:"destination"`
	SFTPD       sftpdYAML         `yaml:"sftpd"`

	SystemdExec   string `yaml:"systemd_exec"`
	RCServiceExec string `yaml:"rc_service_exec"`

	DockerURL     string `yaml:"docker_url"`
	DockerTimeout int    `yaml:"docker_timeout"`

	InitTimeout   int `yaml:"init_timeout"`
	ScriptTimeout int `yaml:"script_timeout"`

	UpdateServices []serviceYAML   `yaml:"update_services"`
	UpdateDelay    any             `yaml:"update_delay"`
	FailFast       bool            `yaml:"fail_fast"`

	FilePermissions permissionsYAML `yaml:"file_permissions"`

	LogLevel    string `yaml:"log_level"`
	LogFilename string `yaml:"log_filename"`
}

// newConfig validates a decoded YAML document into a client Config.
func newConfig(raw configYAML) (*Config, error) {
	var cfg Config

	cfg.Source = raw.Source
	if cfg.Source == "" {
		cfg.Source = certdeploy.DefaultClientSourceDir
	}
	cfg.Destination = raw.Destination
	if cfg.Destination == "" {
		cfg.Destination = certdeploy.DefaultClientDestDir
	}
	if info, err := os.Stat(cfg.Destination); err != nil || !info.IsDir() {
		return nil, certdeploy.ConfigInvalidPath("destination", cfg.Destination, "be a directory that exists")
	}

	sftpd, err := newSFTPDConfig(raw.SFTPD)
	if err != nil {
		return nil, err
	}
	cfg.SFTPD = sftpd

	cfg.SystemdExec = raw.SystemdExec
	if cfg.SystemdExec == "" {
		cfg.SystemdExec = "systemctl"
	}
	cfg.RCServiceExec = raw.RCServiceExec
	if cfg.RCServiceExec == "" {
		cfg.RCServiceExec = "service"
	}

	cfg.DockerURL = raw.DockerURL
	cfg.DockerTimeout = raw.DockerTimeout
	if cfg.DockerTimeout == 0 {
		cfg.DockerTimeout = 15
	}
	if cfg.DockerTimeout < 0 {
		return nil, certdeploy.ConfigInvalidNumber("docker_timeout", cfg.DockerTimeout, "greater than or equal to 0")
	}

	cfg.InitTimeout = raw.InitTimeout
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = 30
	}
	if cfg.InitTimeout < 0 {
		return nil, certdeploy.ConfigInvalidNumber("init_timeout", cfg.InitTimeout, "greater than or equal to 0")
	}
	cfg.ScriptTimeout = raw.ScriptTimeout
	if cfg.ScriptTimeout == 0 {
		cfg.ScriptTimeout = 30
	}
	if cfg.ScriptTimeout < 0 {
		return nil, certdeploy.ConfigInvalidNumber("script_timeout", cfg.ScriptTimeout, "greater than or equal to 0")
	}

	services := make([]*Service, 0, len(raw.UpdateServices))
	for i, rawSvc := range raw.UpdateServices {
		svc, err := newService(rawSvc, i)
		if err != nil {
			return nil, fmt.Errorf("update_services[%d]: %w", i, err)
		}
		services = append(services, svc)
	}
	cfg.UpdateServices = services

	delay, err := parseUpdateDelay(raw.UpdateDelay)
	if err != nil {
		return nil, err
	}
	cfg.UpdateDelay = delay

	cfg.FailFast = raw.FailFast

	perms, err := newPermissions(raw.FilePermissions)
	if err != nil {
		return nil, err
	}
	cfg.FilePermissions = perms

	logLevel, err := certdeploy.ParseLogLevel(raw.LogLevel)
	if err != nil {
		return nil, certdeploy.ConfigInvalid("log_level", raw.LogLevel, "be a valid log level")
	}
	cfg.LogLevel = logLevel
	cfg.LogFilename = raw.LogFilename

	return &cfg, nil
}
