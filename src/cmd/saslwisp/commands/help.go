// FILE: src/cmd/saslwisp/commands/help.go
package commands

import (
	"fmt"
	"sort"
	"strings"
)

const generalHelpTemplate = `SASLWisp: SASL authentication service and client.

Usage:
  saslwisp [command] [options]
  saslwisp [--key.path=value ...]

Commands:
%s

Daemon Options:
  -h, --help                   Display this help message and exit
  -v, --version                Display version information and exit
  --quiet                      Suppress all log output
  --config_auto_reload         Reload [[users]] when the config file changes
  --disable_status_reporter    Disable the periodic status reporter

For command-specific help:
  saslwisp help <command>
  saslwisp <command> --help

Configuration Sources (Precedence: CLI > Env > File > Defaults):
  - SASLWISP_CONFIG_FILE / SASLWISP_CONFIG_DIR select the TOML file
  - SASLWISP_<SECTION>_<KEY> environment variables override the file
  - --section.key=value arguments override everything

Examples:
  # Add a user to the config file
  saslwisp passwd -u alice -s ~/.config/saslwisp.toml

  # Run the daemon on non-default ports
  saslwisp --tcp.port=7171 --http.port=7181

  # Serve the HTTP API over TLS so -PLUS mechanisms are offered
  saslwisp tls --self-signed --cn localhost --hosts localhost,127.0.0.1
  saslwisp --http.tls.enabled=true --http.tls.cert_file=server.crt --http.tls.key_file=server.key

  # Authenticate against a running daemon
  saslwisp login -u alice
`

// HelpCommand shows general or command-specific help.
type HelpCommand struct {
	router *CommandRouter
}

func NewHelpCommand(router *CommandRouter) *HelpCommand {
	return &HelpCommand{router: router}
}

func (c *HelpCommand) Execute(args []string) error {
	if len(args) > 0 && args[0] != "" {
		cmdName := args[0]

		if handler, exists := c.router.GetCommand(cmdName); exists {
			fmt.Print(handler.Help())
			return nil
		}

		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf(generalHelpTemplate, c.formatCommandList())
	return nil
}

func (c *HelpCommand) Description() string {
	return "Display help information"
}

func (c *HelpCommand) Help() string {
	return `Help Command - Display help information

Usage:
  saslwisp help              Show general help
  saslwisp help <command>    Show help for a specific command
`
}

// formatCommandList renders the sorted, aligned command list.
func (c *HelpCommand) formatCommandList() string {
	commands := c.router.GetCommands()

	names := make([]string, 0, len(commands))
	maxLen := 0
	for name := range commands {
		names = append(names, name)
		if len(name) > maxLen {
			maxLen = len(name)
		}
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		padding := strings.Repeat(" ", maxLen-len(name)+2)
		lines = append(lines, fmt.Sprintf("  %s%s%s", name, padding, commands[name].Description()))
	}

	return strings.Join(lines, "\n")
}
