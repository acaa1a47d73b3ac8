// FILE: src/cmd/saslwisp/commands/mechs.go
package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"saslwisp/src/internal/auth"
	"saslwisp/src/internal/config"
	"saslwisp/src/internal/sasl/scram"
	ltls "saslwisp/src/internal/tls"
	"saslwisp/src/internal/transport"
)

// MechsCommand lists the mechanisms a daemon offers.
type MechsCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewMechsCommand() *MechsCommand {
	return &MechsCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
}

func (mc *MechsCommand) Execute(args []string) error {
	cmd := flag.NewFlagSet("mechs", flag.ContinueOnError)
	cmd.SetOutput(mc.errOut)

	var (
		addr     = cmd.String("a", "127.0.0.1:7070", "Daemon TCP address")
		httpURL  = cmd.String("http", "", "Query the HTTP API at this base URL instead")
		caFile   = cmd.String("ca", "", "CA certificate to verify an HTTPS server")
		insecure = cmd.Bool("insecure", false, "Skip HTTPS certificate verification")
		timeout  = cmd.Duration("t", 5*time.Second, "Request timeout")
	)
	cmd.Usage = func() {
		fmt.Fprint(mc.errOut, mc.Help())
		fmt.Fprintln(mc.errOut, "\nOptions:")
		cmd.PrintDefaults()
	}

	if err := cmd.Parse(args); err != nil {
		return err
	}

	var mechs []string
	var err error
	if *httpURL != "" {
		mechs, err = mc.fromHTTP(*httpURL, &config.TLSClientConfig{
			Enabled:            strings.HasPrefix(*httpURL, "https://"),
			ServerCAFile:       *caFile,
			InsecureSkipVerify: *insecure,
		}, *timeout)
	} else {
		mechs, err = mc.fromTCP(*addr, *timeout)
	}
	if err != nil {
		return err
	}

	registry, err := auth.ClientRegistry(scram.DefaultPolicy())
	if err != nil {
		return err
	}
	for _, name := range mechs {
		mark := " "
		if _, err := registry.Lookup(name); err == nil {
			mark = "*"
		}
		fmt.Fprintf(mc.output, "%s %s\n", mark, name)
	}
	fmt.Fprintln(mc.output, "\n* supported by this client")
	return nil
}

func (mc *MechsCommand) fromTCP(addr string, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger, err := clientLogger(false)
	if err != nil {
		return nil, err
	}
	defer logger.Shutdown(time.Second)

	registry, err := auth.ClientRegistry(scram.DefaultPolicy())
	if err != nil {
		return nil, err
	}
	client, err := transport.Dial(ctx, addr, registry, timeout, logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Mechanisms(), nil
}

func (mc *MechsCommand) fromHTTP(baseURL string, tlsCfg *config.TLSClientConfig, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger, err := clientLogger(false)
	if err != nil {
		return nil, err
	}
	defer logger.Shutdown(time.Second)

	tlsManager, err := ltls.NewClientManager(tlsCfg, logger)
	if err != nil {
		return nil, err
	}
	registry, err := auth.ClientRegistry(scram.DefaultPolicy())
	if err != nil {
		return nil, err
	}
	client, err := transport.DialHTTP(ctx, baseURL, registry, tlsManager.GetConfig(), timeout, logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Mechanisms(), nil
}

func (mc *MechsCommand) Description() string {
	return "List the mechanisms a daemon offers"
}

func (mc *MechsCommand) Help() string {
	return `Mechs Command - List the mechanisms a saslwisp daemon offers

Usage:
  saslwisp mechs [-a <host:port>]
  saslwisp mechs --http http://localhost:7080
  saslwisp mechs --http https://localhost:7080 --ca ca.crt

Mechanisms are listed in the daemon's preference order. -PLUS
mechanisms only appear over https.
`
}
