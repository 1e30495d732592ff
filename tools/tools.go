//go:build tools
// +build tools

// Package tools documents development tool dependencies. These are
// installed globally via `go install` and are not linked into the jobradar
// binaries, so they are not tracked in go.mod.
package tools

// Development tools (install via `go install`):
//
// golangci-lint - lint aggregator used before sending changes
//   Install: go install github.com/golangci/golangci-lint/cmd/golangci-lint@v1.64.8
//
// Air - live reload while iterating on the HTTP service
//   Install: go install github.com/air-verse/air@v1.63.0
//   Run: SERVICES=http air
