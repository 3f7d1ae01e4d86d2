// Package main provides the passbundle CLI for packaging signed pass bundles.
//
// For the library API, see the passbundle subpackage:
//
//	import "github.com/aluedeke/go-passbundle/pkg/passbundle"
//
// # Installation
//
// Install the CLI:
//
//	go install github.com/aluedeke/go-passbundle@latest
package main
