// FILE: src/cmd/saslwisp/commands/tls.go
package commands

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	ltls "saslwisp/src/internal/tls"
)

// TLSCommand generates certificates for the HTTPS listener.
type TLSCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewTLSCommand() *TLSCommand {
	return &TLSCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
}

func (tc *TLSCommand) Execute(args []string) error {
	cmd := flag.NewFlagSet("tls", flag.ContinueOnError)
	cmd.SetOutput(tc.errOut)

	var (
		genCA     = cmd.Bool("ca", false, "Generate CA certificate")
		genServer = cmd.Bool("server", false, "Generate server certificate")
		genClient = cmd.Bool("client", false, "Generate client certificate")
		selfSign  = cmd.Bool("self-signed", false, "Generate self-signed certificate")

		commonName = cmd.String("cn", "", "Common name (required)")
		org        = cmd.String("o", "SASLWisp", "Organization")
		country    = cmd.String("c", "US", "Country code")
		validDays  = cmd.Int("d", 365, "Validity period in days")
		keySize    = cmd.Int("b", 2048, "RSA key size")

		commonNameLong = cmd.String("common-name", "", "Common name (required)")
		orgLong        = cmd.String("org", "SASLWisp", "Organization")
		countryLong    = cmd.String("country", "US", "Country code")
		validDaysLong  = cmd.Int("days", 365, "Validity period in days")
		keySizeLong    = cmd.Int("bits", 2048, "RSA key size")

		hosts  = cmd.String("hosts", "", "Comma-separated hostnames/IPs")
		caFile = cmd.String("ca-cert", "", "CA certificate file")
		caKey  = cmd.String("ca-key", "", "CA key file")

		certOut = cmd.String("cert-out", "", "Output certificate file")
		keyOut  = cmd.String("key-out", "", "Output key file")
	)

	cmd.Usage = func() {
		fmt.Fprint(tc.errOut, tc.Help())
		fmt.Fprintln(tc.errOut, "\nOptions:")
		cmd.PrintDefaults()
	}

	if err := cmd.Parse(args); err != nil {
		return err
	}
	if cmd.NArg() > 0 {
		return fmt.Errorf("unexpected argument(s): %s", strings.Join(cmd.Args(), " "))
	}

	opts := ltls.CertOptions{
		CommonName:   coalesceString(*commonName, *commonNameLong),
		Organization: coalesceString(nonDefault(*org, "SASLWisp"), *orgLong),
		Country:      coalesceString(nonDefault(*country, "US"), *countryLong),
		Hosts:        *hosts,
		ValidDays:    coalesceInt(*validDays, *validDaysLong, 365),
		KeyBits:      coalesceInt(*keySize, *keySizeLong, 2048),
	}

	if opts.CommonName == "" {
		cmd.Usage()
		return fmt.Errorf("common name (--cn) is required")
	}
	if opts.KeyBits != 2048 && opts.KeyBits != 3072 && opts.KeyBits != 4096 {
		return fmt.Errorf("invalid key size: %d (valid: 2048, 3072, 4096)", opts.KeyBits)
	}

	var (
		kind, defCert, defKey string
		kp                    *ltls.KeyPair
		ca                    *ltls.KeyPair
		err                   error
	)
	switch {
	case *genCA:
		kind, defCert, defKey = "CA", "ca.crt", "ca.key"
		kp, err = ltls.GenerateCA(opts)
	case *selfSign:
		kind, defCert, defKey = "Self-signed", "server.crt", "server.key"
		kp, err = ltls.GenerateSelfSigned(opts)
	case *genServer, *genClient:
		if *caFile == "" || *caKey == "" {
			return fmt.Errorf("--ca-cert and --ca-key are required to sign a certificate")
		}
		if ca, err = ltls.LoadCA(*caFile, *caKey); err != nil {
			return err
		}
		if *genServer {
			kind, defCert, defKey = "Server", "server.crt", "server.key"
			kp, err = ltls.GenerateServerCert(opts, ca)
		} else {
			kind, defCert, defKey = "Client", "client.crt", "client.key"
			kp, err = ltls.GenerateClientCert(opts, ca)
		}
	default:
		cmd.Usage()
		return fmt.Errorf("specify certificate type: --ca, --self-signed, --server, or --client")
	}
	if err != nil {
		return err
	}

	certFile := coalesceString(*certOut, defCert)
	keyFile := coalesceString(*keyOut, defKey)
	if err := kp.Save(certFile, keyFile); err != nil {
		return err
	}

	fmt.Fprintf(tc.output, "%s certificate generated:\n", kind)
	fmt.Fprintf(tc.output, "  Certificate: %s\n", certFile)
	fmt.Fprintf(tc.output, "  Private key: %s (mode 0600)\n", keyFile)
	fmt.Fprintf(tc.output, "  Common name: %s\n", kp.Cert.Subject.CommonName)
	fmt.Fprintf(tc.output, "  Expires:     %s\n", kp.Cert.NotAfter.Format("2006-01-02"))
	if ca != nil {
		fmt.Fprintf(tc.output, "  Signed by:   CN=%s\n", ca.Cert.Subject.CommonName)
	}
	if opts.Hosts != "" && !*genClient && !*genCA {
		fmt.Fprintf(tc.output, "  Hosts:       %s\n", opts.Hosts)
	}
	return nil
}

func (tc *TLSCommand) Description() string {
	return "Generate TLS certificates for the HTTPS listener (CA, server, client, self-signed)"
}

func (tc *TLSCommand) Help() string {
	return `TLS Command - Generate TLS certificates for SASLWisp

Usage:
  saslwisp tls [options]

The HTTPS listener ([http.tls]) needs a server certificate; the -PLUS
mechanisms are only offered over it.

Certificate Types:
  --ca           Certificate authority
  --server       Server certificate signed by --ca-cert/--ca-key
  --client       Client certificate for mTLS, signed by --ca-cert/--ca-key
  --self-signed  Single certificate for testing

Common Options:
  --cn, --common-name <name>     Common name (required)
  -o, --org <organization>       Organization (default: "SASLWisp")
  -c, --country <code>           Country code (default: "US")
  -d, --days <number>            Validity period in days (default: 365)
  -b, --bits <size>              RSA key size: 2048, 3072 or 4096
  --hosts <list>                 Comma-separated hostnames/IPs
  --ca-cert <file>               CA certificate (for signing)
  --ca-key <file>                CA key (for signing)
  --cert-out <file>              Certificate output file
  --key-out <file>               Private key output file (mode 0600)

Examples:
  saslwisp tls --self-signed --cn localhost --hosts localhost,127.0.0.1

  saslwisp tls --ca --cn "SASLWisp CA" --days 3650 --cert-out ca.crt --key-out ca.key
  saslwisp tls --server --cn auth.example.com --hosts auth.example.com \
    --ca-cert ca.crt --ca-key ca.key
`
}
