// FILE: src/internal/tls/parse.go
package tls

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// parseVersion reads "TLS1.2"/"TLS12" or "TLS1.3"/"TLS13". Older versions
// are refused: tls-exporter binding is only safe with the extended master
// secret, which 1.2 and 1.3 negotiate.
func parseVersion(name string, fallback uint16) (uint16, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "":
		return fallback, nil
	case "TLS1.2", "TLS12":
		return tls.VersionTLS12, nil
	case "TLS1.3", "TLS13":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", name)
}

// parseVersionRange applies the defaults and checks min <= max.
func parseVersionRange(minName, maxName string) (uint16, uint16, error) {
	minVersion, err := parseVersion(minName, tls.VersionTLS12)
	if err != nil {
		return 0, 0, err
	}
	maxVersion, err := parseVersion(maxName, tls.VersionTLS13)
	if err != nil {
		return 0, 0, err
	}
	if minVersion > maxVersion {
		return 0, 0, fmt.Errorf("min_version %s above max_version %s", versionName(minVersion), versionName(maxVersion))
	}
	return minVersion, maxVersion, nil
}

// parseCipherSuites resolves a comma-separated list against the suites
// crypto/tls considers secure. Unknown or insecure names are an error.
func parseCipherSuites(list string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}

	var ids []uint16
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown or insecure cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no cipher suites in %q", list)
	}
	return ids, nil
}

func versionName(v uint16) string {
	switch v {
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	}
	return tls.VersionName(v)
}
