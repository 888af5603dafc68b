package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// Kind distinguishes the five ways a service can be told about a renewed
// certificate.
type Kind string

const (
	KindDockerContainer Kind = "docker_container"
	KindDockerService   Kind = "docker_service"
	KindSystemdUnit     Kind = "systemd_unit"
	KindRCService       Kind = "rc_service"
	KindScript          Kind = "script"
)

var dockerNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
var systemdUnitPattern = regexp.MustCompile(`^[A-Za-z0-9@_.\-:\\]+\.(service|socket|target|timer|path|mount|device|swap)$`)
var rcServicePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var dockerActions = map[string]bool{"restart": true, "kill": true, "none": true}
var systemdActions = map[string]bool{"restart": true, "reload": true, "reload-or-restart": true, "try-restart": true}
var rcActions = map[string]bool{"restart": true, "reload": true, "start": true, "stop": true}

// Service is a single update target: a container, a systemd/rc unit, or an
// arbitrary script, along with the action to take on it.
type Service struct {
	Kind    Kind
	Name    string
	Action  string
	Filters map[string]string

	// Script is the name/path as given in config, used only when
	// Kind == KindScript.
	Script string
	// ResolvedScript is the absolute executable path Script was resolved
	// to at load time: used as-is if already absolute, else looked up on
	// PATH, else treated as relative to the working directory. Always
	// populated when Kind == KindScript.
	ResolvedScript string
	Args           []string
	Timeout        *int
}

type serviceYAML struct {
	DockerContainer string            `yaml:"docker_container"`
	DockerService   string            `yaml:"docker_service"`
	SystemdUnit     string            `yaml:"systemd_unit"`
	RCService       string            `yaml:"rc_service"`
	Script          string            `yaml:"script"`
	Action          string            `yaml:"action"`
	Filters         map[string]string `yaml:"filters"`
	Args            []string          `yaml:"args"`
	Timeout         *int              `yaml:"timeout"`
}

// newService picks the one populated variant field out of raw and validates
// its name/action grammar. Exactly one of docker_container, docker_service,
// systemd_unit, rc_service, or script must be set.
func newService(raw serviceYAML, index int) (*Service, error) {
	set := 0
	var svc Service
	if raw.DockerContainer != "" {
		set++
		svc.Kind = KindDockerContainer
		svc.Name = raw.DockerContainer
	}
	if raw.DockerService != "" {
		set++
		svc.Kind = KindDockerService
		svc.Name = raw.DockerService
	}
	if raw.SystemdUnit != "" {
		set++
		svc.Kind = KindSystemdUnit
		svc.Name = raw.SystemdUnit
	}
	if raw.RCService != "" {
		set++
		svc.Kind = KindRCService
		svc.Name = raw.RCService
	}
	if raw.Script != "" {
		set++
		svc.Kind = KindScript
		svc.Script = raw.Script
	}
	if set == 0 {
		return nil, certdeploy.ConfigError("update_services[%d]: must set exactly one of docker_container, docker_service, systemd_unit, rc_service, or script", index)
	}
	if set > 1 {
		return nil, certdeploy.ConfigError("update_services[%d]: must set exactly one of docker_container, docker_service, systemd_unit, rc_service, or script, not %d", index, set)
	}

	svc.Filters = raw.Filters
	svc.Args = raw.Args
	svc.Timeout = raw.Timeout

	switch svc.Kind {
	case KindDockerContainer, KindDockerService:
		if svc.Name != "" && !dockerNamePattern.MatchString(svc.Name) {
			return nil, certdeploy.ConfigInvalid("update_services[].name", svc.Name, "match the docker name grammar [A-Za-z0-9][A-Za-z0-9_.-]*")
		}
		action := strings.ToLower(raw.Action)
		if action == "" {
			action = "restart"
		}
		if !dockerActions[action] {
			return nil, certdeploy.ConfigInvalidChoice("update_services[].action", raw.Action, []string{"restart", "kill", "none"})
		}
		svc.Action = action
	case KindSystemdUnit:
		if !systemdUnitPattern.MatchString(svc.Name) {
			return nil, certdeploy.ConfigInvalid("update_services[].systemd_unit", svc.Name, "be a unit name ending in .service, .socket, .target, .timer, .path, .mount, .device, or .swap")
		}
		action := strings.ToLower(raw.Action)
		if action == "" {
			action = "restart"
		}
		if !systemdActions[action] {
			return nil, certdeploy.ConfigInvalidChoice("update_services[].action", raw.Action, []string{"restart", "reload", "reload-or-restart", "try-restart"})
		}
		svc.Action = action
	case KindRCService:
		if !rcServicePattern.MatchString(svc.Name) {
			return nil, certdeploy.ConfigInvalid("update_services[].rc_service", svc.Name, "match [A-Za-z0-9_.-]+")
		}
		action := strings.ToLower(raw.Action)
		if action == "" {
			action = "restart"
		}
		if !rcActions[action] {
			return nil, certdeploy.ConfigInvalidChoice("update_services[].action", raw.Action, []string{"restart", "reload", "start", "stop"})
		}
		svc.Action = action
	case KindScript:
		if svc.Timeout != nil && *svc.Timeout < 0 {
			return nil, certdeploy.ConfigInvalidNumber("update_services[].timeout", *svc.Timeout, "greater than or equal to 0")
		}
		resolved, err := resolveScript(svc.Script)
		if err != nil {
			return nil, certdeploy.ConfigInvalidPath("update_services[].script", svc.Script, "be an absolute path, a name on $PATH, or a path relative to the working directory")
		}
		svc.ResolvedScript = resolved
	}

	return &svc, nil
}

// resolveScript resolves name to an absolute executable path: as-is if
// already absolute, else via PATH lookup, else relative to the working
// directory. The resolved path must exist or the config is invalid.
func resolveScript(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(cwd, name)
	if _, err := os.Stat(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

func (s *Service) String() string {
	switch s.Kind {
	case KindScript:
		return "script:" + s.Script
	default:
		return string(s.Kind) + ":" + s.Name
	}
}
