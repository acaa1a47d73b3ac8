// FILE: src/cmd/saslwisp/commands/passwd.go
package commands

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"
	"saslwisp/src/internal/credential"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// PasswdCommand derives user verifiers and token secrets.
type PasswdCommand struct {
	output io.Writer
	errOut io.Writer

	// Replaced in tests
	readPassword func(prompt string) (string, error)
}

func NewPasswdCommand() *PasswdCommand {
	pc := &PasswdCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
	pc.readPassword = pc.promptPassword
	return pc
}

func (pc *PasswdCommand) Execute(args []string) error {
	cmd := flag.NewFlagSet("passwd", flag.ContinueOnError)
	cmd.SetOutput(pc.errOut)

	var (
		username     = cmd.String("u", "", "Username")
		usernameLong = cmd.String("user", "", "Username")
		password     = cmd.String("p", "", "Password (will prompt if not provided)")
		passwordLong = cmd.String("password", "", "Password (will prompt if not provided)")

		iterations     = cmd.Int("i", core.ScramDefaultIterations, "SCRAM iteration count")
		iterationsLong = cmd.Int("iterations", core.ScramDefaultIterations, "SCRAM iteration count")
		saltLen        = cmd.Int("salt-len", core.ScramSaltLen, "SCRAM salt length in bytes")

		useBcrypt     = cmd.Bool("b", false, "Hash the PLAIN/LOGIN password with bcrypt instead of Argon2id")
		useBcryptLong = cmd.Bool("bcrypt", false, "Hash the PLAIN/LOGIN password with bcrypt instead of Argon2id")
		bcryptCost    = cmd.Int("cost", bcrypt.DefaultCost, "Bcrypt cost (4-31)")

		admin     = cmd.Bool("a", false, "Allow the user to act as any authorization identity")
		adminLong = cmd.Bool("admin", false, "Allow the user to act as any authorization identity")

		save     = cmd.String("s", "", "Write the user into this config file")
		saveLong = cmd.String("save", "", "Write the user into this config file")

		genSecret     = cmd.Bool("k", false, "Generate a random token signing secret")
		genSecretLong = cmd.Bool("token-secret", false, "Generate a random token signing secret")
		secretLen     = cmd.Int("l", core.DefaultTokenBytes, "Secret length in bytes")
		secretLenLong = cmd.Int("length", core.DefaultTokenBytes, "Secret length in bytes")
	)

	cmd.Usage = func() {
		fmt.Fprint(pc.errOut, pc.Help())
		fmt.Fprintln(pc.errOut, "\nOptions:")
		cmd.PrintDefaults()
	}

	if err := cmd.Parse(args); err != nil {
		return err
	}
	if cmd.NArg() > 0 {
		return fmt.Errorf("unexpected argument(s): %s", strings.Join(cmd.Args(), " "))
	}

	if coalesceBool(*genSecret, *genSecretLong) {
		return pc.generateSecret(coalesceInt(*secretLen, *secretLenLong, core.DefaultTokenBytes))
	}

	finalUsername := coalesceString(*username, *usernameLong)
	if finalUsername == "" {
		cmd.Usage()
		return fmt.Errorf("username required")
	}

	finalPassword := coalesceString(*password, *passwordLong)
	if finalPassword == "" {
		var err error
		if finalPassword, err = pc.promptForPassword(); err != nil {
			return err
		}
	}

	finalIterations := coalesceInt(*iterations, *iterationsLong, core.ScramDefaultIterations)
	if finalIterations < core.ScramMinIterations {
		fmt.Fprintf(pc.errOut, "Warning: %d iterations is below the default floor of %d; clients will refuse it unless min_iterations is lowered\n",
			finalIterations, core.ScramMinIterations)
	}

	uc, err := credential.Generate(finalUsername, []byte(finalPassword), finalIterations, *saltLen)
	if err != nil {
		return err
	}
	if coalesceBool(*useBcrypt, *useBcryptLong) {
		if uc.PasswordHash, err = credential.HashBcrypt([]byte(finalPassword), *bcryptCost); err != nil {
			return err
		}
	}
	uc.Admin = coalesceBool(*admin, *adminLong)

	if path := coalesceString(*save, *saveLong); path != "" {
		return pc.saveUser(path, uc)
	}
	pc.printUser(uc)
	return nil
}

func (pc *PasswdCommand) Description() string {
	return "Generate user credentials (SCRAM, Argon2id, bcrypt) or a token secret"
}

func (pc *PasswdCommand) Help() string {
	return `Passwd Command - Generate credentials for saslwisp

Usage:
  saslwisp passwd -u <name> [options]
  saslwisp passwd -k [-l <bytes>]

Every user gets one SCRAM verifier per hash family (SHA-1, SHA-256, SHA-512)
with its own random salt, and a password hash for PLAIN and LOGIN.
The plaintext password is never stored.

Options:
  -u, --user <name>          Username
  -p, --password <pass>      Password (will prompt if not provided)
  -i, --iterations <n>       SCRAM iteration count (default: 4096)
      --salt-len <bytes>     SCRAM salt length (default: 16)
  -b, --bcrypt               Use bcrypt for the PLAIN/LOGIN hash
      --cost <n>             Bcrypt cost (default: 10)
  -a, --admin                Allow any authorization identity
  -s, --save <path>          Add or replace the user in a config file
  -k, --token-secret         Generate a token signing secret
  -l, --length <bytes>       Secret length (default: 32)

Examples:
  # Print a [[users]] entry
  saslwisp passwd -u alice

  # Add an admin to the running daemon's config (picked up on SIGHUP)
  saslwisp passwd -u root -a -s /etc/saslwisp.toml

  # Generate a token secret
  saslwisp passwd -k -l 48
`
}

func (pc *PasswdCommand) promptForPassword() (string, error) {
	pass1, err := pc.readPassword("Enter password: ")
	if err != nil {
		return "", err
	}
	pass2, err := pc.readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if pass1 != pass2 {
		return "", fmt.Errorf("passwords don't match")
	}
	if pass1 == "" {
		return "", fmt.Errorf("empty password")
	}
	return pass1, nil
}

func (pc *PasswdCommand) promptPassword(prompt string) (string, error) {
	fmt.Fprint(pc.errOut, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(pc.errOut)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func (pc *PasswdCommand) printUser(uc config.UserConfig) {
	fmt.Fprintln(pc.output, "\n# Add to saslwisp.toml:")
	fmt.Fprintln(pc.output, "[[users]]")
	fmt.Fprintf(pc.output, "username = %q\n", uc.Username)
	fmt.Fprintln(pc.output, "scram = [")
	for _, cred := range uc.Scram {
		fmt.Fprintf(pc.output, "  %q,\n", cred)
	}
	fmt.Fprintln(pc.output, "]")
	fmt.Fprintf(pc.output, "password_hash = %q\n", uc.PasswordHash)
	if uc.Admin {
		fmt.Fprintln(pc.output, "admin = true")
	}
}

// saveUser upserts the user into the config file at path, creating it if needed.
func (pc *PasswdCommand) saveUser(path string, uc config.UserConfig) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	cfg.UpsertUser(uc)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(pc.output, "User %q written to %s\n", uc.Username, path)
	return nil
}

func (pc *PasswdCommand) generateSecret(length int) error {
	if length < 32 {
		return fmt.Errorf("token secrets need at least 32 bytes")
	}
	if length > 512 {
		return fmt.Errorf("secret length exceeds maximum (512 bytes)")
	}

	secret := make([]byte, length)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to generate random bytes: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(secret)

	fmt.Fprintln(pc.output, "\n# Add to saslwisp.toml:")
	fmt.Fprintln(pc.output, "[token]")
	fmt.Fprintf(pc.output, "secret = %q\n", encoded)
	return nil
}
