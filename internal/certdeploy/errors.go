package certdeploy

import "fmt"

// CertDeployError is the umbrella error kind. The error constructors in
// this package return it with Kind naming the specific error, so callers
// can match any of them with errors.As into a *CertDeployError and treat
// them as "a CertDeploy error".
type CertDeployError struct {
	Kind    string
	Message string
	Wrapped error
}

func (e *CertDeployError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CertDeployError) Unwrap() error {
	return e.Wrapped
}

func newError(kind, message string, wrapped error) *CertDeployError {
	return &CertDeployError{Kind: kind, Message: message, Wrapped: wrapped}
}

// ConfigError reports an invalid configuration. It is always fatal at load.
func ConfigError(format string, args ...any) *CertDeployError {
	return newError("ConfigError", fmt.Sprintf(format, args...), nil)
}

// ConfigInvalid reports an invalid value for a specific config key.
func ConfigInvalid(key string, value any, must string) *CertDeployError {
	if must == "" {
		return newError("ConfigError", fmt.Sprintf("invalid value %q for `%s`", fmt.Sprint(value), key), nil)
	}
	return newError("ConfigError", fmt.Sprintf("invalid value %q for `%s`: `%s` must %s", fmt.Sprint(value), key, key, must), nil)
}

// ConfigInvalidNumber reports that key's value isn't a number meeting the
// given bounds. bounds is a human-readable fragment, e.g. "greater than 0".
func ConfigInvalidNumber(key string, value any, bounds string) *CertDeployError {
	must := "be a number"
	if bounds != "" {
		must = fmt.Sprintf("be a number %s", bounds)
	}
	return ConfigInvalid(key, value, must)
}

// ConfigInvalidChoice reports that value isn't one of choices.
func ConfigInvalidChoice(key string, value any, choices []string) *CertDeployError {
	return ConfigInvalid(key, value, fmt.Sprintf("be one of %v", choices))
}

// ConfigInvalidPath reports a path that doesn't exist, isn't the expected
// type, or isn't writable.
func ConfigInvalidPath(key string, value any, must string) *CertDeployError {
	return ConfigInvalid(key, value, must)
}

// InvalidKey reports that a staged PEM file failed structural validation.
// It aborts promotion of the containing lineage only.
func InvalidKey(path string) *CertDeployError {
	return newError("InvalidKey", fmt.Sprintf("invalid key %s", path), nil)
}

// ContainerNotFound reports that no running container matched a filter set.
func ContainerNotFound(name string, filters map[string]string) *CertDeployError {
	return newError("ContainerNotFound", fmt.Sprintf("could not find any container matching name=%q filters=%v", name, filters), nil)
}

// ContainerError wraps a container-engine failure while updating a container.
func ContainerError(name string, err error) *CertDeployError {
	return newError("ContainerError", fmt.Sprintf("error updating container %s: %s", name, err), err)
}

// ServiceNotFound reports that no orchestrator service matched a filter set.
func ServiceNotFound(name string, filters map[string]string) *CertDeployError {
	return newError("ServiceNotFound", fmt.Sprintf("could not find any service matching name=%q filters=%v", name, filters), nil)
}

// ServiceError wraps an orchestrator failure while force-updating a service.
func ServiceError(name string, err error) *CertDeployError {
	return newError("ServiceError", fmt.Sprintf("error updating service %s: %s", name, err), err)
}

// SystemdError wraps a systemctl invocation failure, optionally including
// the process's combined stdout/stderr.
func SystemdError(name string, err error, output string) *CertDeployError {
	return newError("SystemdError", formatProcessFailure(fmt.Sprintf("failed to update systemd unit %s", name), err, output), err)
}

// RCServiceError wraps an rc-service invocation failure.
func RCServiceError(name string, err error, output string) *CertDeployError {
	return newError("RCServiceError", formatProcessFailure(fmt.Sprintf("failed to update rc service %s", name), err, output), err)
}

// ScriptError wraps a failed update script run.
func ScriptError(name string, err error, output string) *CertDeployError {
	return newError("ScriptError", formatProcessFailure(fmt.Sprintf("failed to run update script %s", name), err, output), err)
}

// TransportError wraps an SSH/socket/SFTP failure during a push. It's the
// error kind that drives push-worker retry.
func TransportError(address string, err error) *CertDeployError {
	return newError("TransportError", fmt.Sprintf("transport error talking to %s: %s", address, err), err)
}

// RenewalError wraps a non-zero exit, timeout, or spawn failure from the
// external renewer invocation. Under fail_fast it terminates the server
// daemon; otherwise it's logged and the scheduler waits for its next tick.
func RenewalError(exec string, err error, output string) *CertDeployError {
	return newError("RenewalError", formatProcessFailure(fmt.Sprintf("renewal command %s failed", exec), err, output), err)
}

func formatProcessFailure(message string, err error, output string) string {
	if err != nil {
		message = fmt.Sprintf("%s: %s", message, err)
	}
	if output != "" {
		message = fmt.Sprintf("%s. Got combined stdout/stderr:\n%s", message, output)
	}
	return message
}
