// FILE: src/internal/tls/certs.go
package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"
)

// CertOptions describes a certificate to generate.
type CertOptions struct {
	CommonName   string
	Organization string
	Country      string
	Hosts        string // comma-separated DNS names and IPs
	ValidDays    int
	KeyBits      int
}

// KeyPair is a generated or loaded certificate with its key.
type KeyPair struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
	DER  []byte
}

func (o CertOptions) subject() pkix.Name {
	org := o.Organization
	if org == "" {
		org = "SASLWisp"
	}
	country := o.Country
	if country == "" {
		country = "US"
	}
	return pkix.Name{
		CommonName:   o.CommonName,
		Organization: []string{org},
		Country:      []string{country},
	}
}

func (o CertOptions) validity() (time.Time, time.Time) {
	days := o.ValidDays
	if days <= 0 {
		days = 365
	}
	now := time.Now()
	return now.Add(-time.Minute), now.AddDate(0, 0, days)
}

func (o CertOptions) newKey() (*rsa.PrivateKey, error) {
	bits := o.KeyBits
	if bits == 0 {
		bits = 2048
	}
	if bits < 2048 {
		return nil, fmt.Errorf("key size %d below 2048 bits", bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return priv, nil
}

func serialNumber() *big.Int {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	return serial
}

// ParseHosts splits a comma-separated host list into DNS names and IPs.
func ParseHosts(hostList string) ([]string, []net.IP) {
	var dnsNames []string
	var ipAddrs []net.IP

	if hostList == "" {
		return dnsNames, ipAddrs
	}

	for _, h := range strings.Split(hostList, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
		} else {
			dnsNames = append(dnsNames, h)
		}
	}

	return dnsNames, ipAddrs
}

// GenerateCA creates a private CA.
func GenerateCA(opts CertOptions) (*KeyPair, error) {
	priv, err := opts.newKey()
	if err != nil {
		return nil, err
	}
	notBefore, notAfter := opts.validity()

	template := x509.Certificate{
		SerialNumber:          serialNumber(),
		Subject:               opts.subject(),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return sign(&template, &template, priv, priv)
}

// GenerateSelfSigned creates a certificate usable as both server and client.
func GenerateSelfSigned(opts CertOptions) (*KeyPair, error) {
	priv, err := opts.newKey()
	if err != nil {
		return nil, err
	}
	dnsNames, ipAddrs := ParseHosts(opts.Hosts)
	notBefore, notAfter := opts.validity()

	template := x509.Certificate{
		SerialNumber: serialNumber(),
		Subject:      opts.subject(),
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ipAddrs,
	}
	return sign(&template, &template, priv, priv)
}

// GenerateServerCert creates a server certificate signed by ca.
func GenerateServerCert(opts CertOptions, ca *KeyPair) (*KeyPair, error) {
	return generateLeaf(opts, ca, x509.ExtKeyUsageServerAuth)
}

// GenerateClientCert creates an mTLS client certificate signed by ca.
func GenerateClientCert(opts CertOptions, ca *KeyPair) (*KeyPair, error) {
	opts.Hosts = ""
	return generateLeaf(opts, ca, x509.ExtKeyUsageClientAuth)
}

func generateLeaf(opts CertOptions, ca *KeyPair, usage x509.ExtKeyUsage) (*KeyPair, error) {
	if ca == nil || !ca.Cert.IsCA {
		return nil, fmt.Errorf("certificate is not a CA certificate")
	}
	notBefore, notAfter := opts.validity()
	if notAfter.After(ca.Cert.NotAfter) {
		return nil, fmt.Errorf("certificate validity period (%d days) exceeds CA expiry (%s)",
			opts.ValidDays, ca.Cert.NotAfter.Format(time.RFC3339))
	}

	priv, err := opts.newKey()
	if err != nil {
		return nil, err
	}
	dnsNames, ipAddrs := ParseHosts(opts.Hosts)

	template := x509.Certificate{
		SerialNumber: serialNumber(),
		Subject:      opts.subject(),
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     dnsNames,
		IPAddresses:  ipAddrs,
	}
	return sign(&template, ca.Cert, priv, ca.Key)
}

func sign(template, parent *x509.Certificate, priv, signer *rsa.PrivateKey) (*KeyPair, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &priv.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return &KeyPair{Cert: cert, Key: priv, DER: der}, nil
}

// CertPEM returns the PEM encoded certificate.
func (kp *KeyPair) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.DER})
}

// KeyPEM returns the PEM encoded PKCS#1 private key.
func (kp *KeyPair) KeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(kp.Key)})
}

// Save writes the certificate (mode 0644) and key (mode 0600).
func (kp *KeyPair) Save(certFile, keyFile string) error {
	if err := os.WriteFile(certFile, kp.CertPEM(), 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, kp.KeyPEM(), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// LoadCA reads a CA certificate and its RSA key.
func LoadCA(certFile, keyFile string) (*KeyPair, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("invalid CA certificate format")
	}
	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("invalid CA key format")
	}

	var caKey *rsa.PrivateKey
	switch keyBlock.Type {
	case "RSA PRIVATE KEY":
		caKey, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err == nil {
			var ok bool
			if caKey, ok = parsed.(*rsa.PrivateKey); !ok {
				return nil, fmt.Errorf("CA key is not RSA")
			}
		}
	default:
		return nil, fmt.Errorf("unsupported CA key type: %s", keyBlock.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}

	if !caCert.IsCA {
		return nil, fmt.Errorf("certificate is not a CA certificate")
	}
	return &KeyPair{Cert: caCert, Key: caKey, DER: certBlock.Bytes}, nil
}
