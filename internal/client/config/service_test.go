package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceDockerContainerDefaults(t *testing.T) {
	svc, err := newService(serviceYAML{DockerContainer: "nginx"}, 0)
	require.NoError(t, err)
	assert.Equal(t, KindDockerContainer, svc.Kind)
	assert.Equal(t, "nginx", svc.Name)
	assert.Equal(t, "restart", svc.Action)
}

func TestNewServiceRejectsMultipleKinds(t *testing.T) {
	_, err := newService(serviceYAML{DockerContainer: "nginx", SystemdUnit: "nginx.service"}, 0)
	require.Error(t, err)
}

func TestNewServiceRejectsNoKind(t *testing.T) {
	_, err := newService(serviceYAML{}, 0)
	require.Error(t, err)
}

func TestNewServiceSystemdUnitRequiresSuffix(t *testing.T) {
	_, err := newService(serviceYAML{SystemdUnit: "nginx"}, 0)
	require.Error(t, err)

	svc, err := newService(serviceYAML{SystemdUnit: "nginx.service", Action: "reload"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "reload", svc.Action)
}

func TestNewServiceRejectsBadAction(t *testing.T) {
	_, err := newService(serviceYAML{RCService: "nginx", Action: "explode"}, 0)
	require.Error(t, err)
}

func TestNewServiceScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "reload.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	timeout := 10
	svc, err := newService(serviceYAML{Script: script, Timeout: &timeout}, 0)
	require.NoError(t, err)
	assert.Equal(t, KindScript, svc.Kind)
	assert.Equal(t, script, svc.Script)
	assert.Equal(t, script, svc.ResolvedScript)
	assert.Equal(t, "script:"+script, svc.String())
}

func TestNewServiceScriptMissingIsFatal(t *testing.T) {
	_, err := newService(serviceYAML{Script: "/no/such/reload.sh"}, 0)
	require.Error(t, err)
}
