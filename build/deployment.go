package build

import "fmt"

// AppVersion is the release version of the wallet.
const AppVersion = "0.1.0"

// DeploymentType selects how sub loggers are built. Development builds log
// unit tests to stderr.
type DeploymentType byte

const (
	// Development builds are tagged dev.
	Development DeploymentType = iota

	// Production builds are the default.
	Production
)

// String returns the build tag selecting the deployment.
func (b DeploymentType) String() string {
	if b == Development {
		return "dev"
	}

	return "prod"
}

// Version returns the version of the wallet, suffixed with the deployment
// for development builds.
func Version() string {
	if Deployment == Development {
		return fmt.Sprintf("%s-%v", AppVersion, Deployment)
	}

	return AppVersion
}
