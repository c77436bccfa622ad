//go:build !dev
// +build !dev

package build

// Deployment specifies a production build.
const Deployment = Production

// LogLevel is the level of stderr sub loggers.
const LogLevel = "info"
