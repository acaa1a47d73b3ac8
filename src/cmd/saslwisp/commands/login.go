// FILE: src/cmd/saslwisp/commands/login.go
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
	"saslwisp/src/internal/sasl"
	ltls "saslwisp/src/internal/tls"
	"saslwisp/src/internal/transport"

	"github.com/lixenwraith/log"
	"golang.org/x/term"
)

// LoginCommand authenticates against a daemon over the TCP line protocol
// or the HTTP API.
type LoginCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewLoginCommand() *LoginCommand {
	return &LoginCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
}

func (lc *LoginCommand) Execute(args []string) error {
	cmd := flag.NewFlagSet("login", flag.ContinueOnError)
	cmd.SetOutput(lc.errOut)

	var (
		addr         = cmd.String("a", "127.0.0.1:7070", "Daemon TCP address")
		addrLong     = cmd.String("addr", "127.0.0.1:7070", "Daemon TCP address")
		username     = cmd.String("u", "", "Authentication identity")
		usernameLong = cmd.String("user", "", "Authentication identity")
		password     = cmd.String("p", "", "Password (will prompt if not provided)")
		passwordLong = cmd.String("password", "", "Password (will prompt if not provided)")
		authzid      = cmd.String("z", "", "Authorization identity to act as")
		mechanism    = cmd.String("m", "", "Mechanism (default: strongest offered)")
		minIter      = cmd.Int("min-iterations", 0, "Lowest SCRAM iteration count to accept (default: 4096)")
		httpURL      = cmd.String("http", "", "Use the HTTP API at this base URL (https enables -PLUS)")
		caFile       = cmd.String("ca", "", "CA certificate to verify the HTTPS server")
		serverName   = cmd.String("server-name", "", "Expected HTTPS server name")
		insecure     = cmd.Bool("insecure", false, "Skip HTTPS certificate verification")
		timeout      = cmd.Duration("t", 10*time.Second, "Exchange timeout")
		tokenOnly    = cmd.Bool("token-only", false, "Print only the issued token")
		verbose      = cmd.Bool("verbose", false, "Log protocol progress to stderr")
	)

	cmd.Usage = func() {
		fmt.Fprint(lc.errOut, lc.Help())
		fmt.Fprintln(lc.errOut, "\nOptions:")
		cmd.PrintDefaults()
	}

	if err := cmd.Parse(args); err != nil {
		return err
	}
	if cmd.NArg() > 0 {
		return fmt.Errorf("unexpected argument(s): %s", strings.Join(cmd.Args(), " "))
	}

	finalUser := coalesceString(*username, *usernameLong)
	if finalUser == "" {
		cmd.Usage()
		return fmt.Errorf("username required")
	}
	finalPassword := coalesceString(*password, *passwordLong)
	if finalPassword == "" {
		fmt.Fprint(lc.errOut, "Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(lc.errOut)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		finalPassword = string(pw)
	}

	logger, err := clientLogger(*verbose)
	if err != nil {
		return err
	}
	defer logger.Shutdown(time.Second)

	scramCfg := config.Defaults().Scram
	if *minIter > 0 {
		scramCfg.MinIterations = int64(*minIter)
	}
	registry, err := auth.ClientRegistry(auth.PolicyFromConfig(scramCfg))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	props := map[sasl.Property]string{
		sasl.AuthID:   finalUser,
		sasl.Password: finalPassword,
	}
	if *authzid != "" {
		props[sasl.AuthzID] = *authzid
	}
	cb := sasl.StaticCallback(props)
	mech := strings.ToUpper(*mechanism)

	var res *transport.Result
	var cid, zid string
	if *httpURL != "" {
		tlsManager, err := ltls.NewClientManager(&config.TLSClientConfig{
			Enabled:            strings.HasPrefix(*httpURL, "https://"),
			ServerCAFile:       *caFile,
			ServerName:         *serverName,
			InsecureSkipVerify: *insecure,
		}, logger)
		if err != nil {
			return err
		}
		client, err := transport.DialHTTP(ctx, *httpURL, registry, tlsManager.GetConfig(), *timeout, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		if res, err = client.Authenticate(ctx, mech, cb); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		if !*tokenOnly {
			if cid, zid, err = client.Whoami(ctx, res.Token); err != nil {
				return err
			}
		}
	} else {
		target := coalesceString(nonDefault(*addr, "127.0.0.1:7070"), *addrLong)
		client, err := transport.Dial(ctx, target, registry, *timeout, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		if res, err = client.Authenticate(ctx, mech, cb); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		if !*tokenOnly {
			if cid, zid, err = client.Whoami(); err != nil {
				return err
			}
		}
	}

	if *tokenOnly {
		fmt.Fprintln(lc.output, res.Token)
		return nil
	}
	fmt.Fprintf(lc.output, "Authenticated as %s", cid)
	if zid != "" {
		fmt.Fprintf(lc.output, " acting as %s", zid)
	}
	fmt.Fprintf(lc.output, " via %s\n", res.Mechanism)
	fmt.Fprintf(lc.output, "Token: %s\n", res.Token)
	return nil
}

func (lc *LoginCommand) Description() string {
	return "Authenticate against a running daemon and print the session token"
}

func (lc *LoginCommand) Help() string {
	return `Login Command - Authenticate against a saslwisp daemon

Usage:
  saslwisp login -u <name> [options]

The client negotiates the strongest mechanism both sides support unless
-m names one. SCRAM mechanisms verify the server's signature; the login
fails if the server cannot prove it knows the credential. Over an
https URL the -PLUS mechanisms bind the exchange to the TLS connection.

Options:
  -a, --addr <host:port>     Daemon TCP address (default: 127.0.0.1:7070)
  -u, --user <name>          Authentication identity
  -p, --password <pass>      Password (will prompt if not provided)
  -z <name>                  Authorization identity to act as (admins only)
  -m <mechanism>             Force a mechanism, e.g. SCRAM-SHA-256
  -t <duration>              Exchange timeout (default: 10s)
      --http <url>           Use the HTTP API instead of the TCP protocol
      --ca <file>            CA certificate for an https URL
      --server-name <name>   Expected certificate name (default: URL host)
      --insecure             Skip certificate verification
      --min-iterations <n>   Lowest SCRAM iteration count to accept
      --token-only           Print only the token
      --verbose              Log protocol progress to stderr

Examples:
  saslwisp login -u alice
  saslwisp login -u root -z alice -m PLAIN
  saslwisp login -u alice --http https://auth.example.com:7443 --ca ca.crt
  TOKEN=$(saslwisp login -u alice -p secret --token-only)
`
}

// clientLogger logs to stderr when verbose and discards otherwise.
func clientLogger(verbose bool) (*log.Logger, error) {
	logger := log.NewLogger()
	if verbose {
		return logger, logger.InitWithDefaults(
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stderr",
			fmt.Sprintf("level=%d", log.LevelDebug))
	}
	return logger, logger.InitWithDefaults(
		"disable_file=true",
		"enable_stdout=false",
		"level=255")
}

// nonDefault returns value unless it equals def.
func nonDefault(value, def string) string {
	if value == def {
		return ""
	}
	return value
}
