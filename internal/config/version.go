// Package config provides configuration and build information for DarkAuth.
package config

// Version is the application version.
// Set at build time via ldflags:
//
//	go build -ldflags "-X github.com/darkauth/darkauth/internal/config.Version=1.2.3" ./cmd/server
//
// Default value is used for local development.
var Version = "0.1.0"
