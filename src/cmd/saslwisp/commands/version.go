// FILE: src/cmd/saslwisp/commands/version.go
package commands

import (
	"fmt"

	"saslwisp/src/internal/version"
)

type VersionCommand struct{}

func NewVersionCommand() *VersionCommand {
	return &VersionCommand{}
}

func (c *VersionCommand) Execute(args []string) error {
	fmt.Println(version.String())
	return nil
}

func (c *VersionCommand) Description() string {
	return "Show version information"
}

func (c *VersionCommand) Help() string {
	return `Version Command - Show SASLWisp version information

Usage:
  saslwisp version
  saslwisp --version
`
}
