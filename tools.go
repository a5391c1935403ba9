//go:build tools

package tools

// These imports keep `go mod tidy` from removing the development tools
// run by `go run` in CI.
import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint" // linting
	_ "golang.org/x/vuln/cmd/govulncheck"                   // vulnerability scan
)
