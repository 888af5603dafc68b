// Package certdeploy holds the constants, log-level type, and error
// taxonomy shared by the certdeploy-server and certdeploy-client daemons.
package certdeploy

import "path/filepath"

const (
	DefaultConfigDir = "/etc/certdeploy"

	// DefaultUsername is the default SFTP username for servers and clients.
	DefaultUsername = "certdeploy"
	// DefaultPort is the default SFTP port for servers and clients.
	DefaultPort = 22

	DefaultClientSourceDir = "/var/cache/certdeploy"
	DefaultClientDestDir   = "/etc/letsencrypt/live"

	DefaultServerHostKeys = DefaultConfigDir + "/server_hostkeys"
	DefaultServerQueueDir = "/var/run/certdeploy"

	DefaultLogFilename = "/dev/stdout"

	CertDeployClientLoggerName = "certdeploy-client"
	CertDeployServerLoggerName = "certdeploy-server"
	SFTPLoggerName             = "sftp"
)

// DefaultClientConfig and DefaultServerConfig are computed rather than
// constant because they join onto DefaultConfigDir.
var (
	DefaultClientConfig = filepath.Join(DefaultConfigDir, "client.yml")
	DefaultServerConfig = filepath.Join(DefaultConfigDir, "server.yml")
)
