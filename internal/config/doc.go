// Package config defines the packaging settings used by the passbundle CLI
// and provides helpers to load, validate and save them in YAML format.
//
// Command line flags and environment variables override the values read
// from the file.
package config
