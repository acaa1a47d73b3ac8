// FILE: src/internal/sasl/scram/mechanism.go
package scram

import (
	"strings"

	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"
)

var families = []struct {
	hash primitive.Provider
	rank int
}{
	{primitive.SHA1, 100},
	{primitive.SHA256, 200},
	{primitive.SHA512, 300},
}

// Name returns the mechanism name for a hash family, e.g. "SCRAM-SHA-256-PLUS".
func Name(hash primitive.Provider, plus bool) string {
	name := "SCRAM-" + hash.Name()
	if plus {
		name += "-PLUS"
	}
	return name
}

// New builds one SCRAM mechanism descriptor. A nil policy uses DefaultPolicy.
func New(hash primitive.Provider, plus bool, policy *Policy) sasl.Mechanism {
	if policy == nil {
		policy = DefaultPolicy()
	}
	rank := 0
	for _, f := range families {
		if f.hash == hash {
			rank = f.rank
		}
	}
	if plus {
		rank += 10
	}
	return sasl.Mechanism{
		Name:           Name(hash, plus),
		ClientFirst:    true,
		Rank:           rank,
		ChannelBinding: plus,
		MutualAuth:     true,
		NewClient:      func() sasl.Authenticator { return newClient(hash, plus, policy) },
		NewServer:      func() sasl.Authenticator { return newServer(hash, plus, policy) },
	}
}

// Mechanisms returns every SCRAM variant, plain and -PLUS, for all supported hashes.
func Mechanisms(policy *Policy) []sasl.Mechanism {
	mechs := make([]sasl.Mechanism, 0, 2*len(families))
	for _, f := range families {
		mechs = append(mechs, New(f.hash, false, policy), New(f.hash, true, policy))
	}
	return mechs
}

// HashOf returns the hash family of a SCRAM mechanism name.
func HashOf(mechanism string) (primitive.Provider, bool) {
	name, ok := strings.CutPrefix(strings.ToUpper(mechanism), "SCRAM-")
	if !ok {
		return nil, false
	}
	return primitive.ByName(strings.TrimSuffix(name, "-PLUS"))
}
