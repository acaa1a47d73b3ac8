// FILE: src/internal/sasl/registry.go
package sasl

import (
	"fmt"
	"sort"
	"strings"
)

// RegistryBuilder collects mechanisms before the registry is frozen.
type RegistryBuilder struct {
	mechs []*Mechanism
	index map[string]int
	err   error
}

// NewRegistryBuilder creates an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{index: make(map[string]int)}
}

// Register adds mechanisms in order. Registration order breaks ties between
// equally ranked mechanisms during negotiation. The first error sticks and is
// reported by Build.
func (b *RegistryBuilder) Register(mechs ...Mechanism) *RegistryBuilder {
	for _, m := range mechs {
		if b.err != nil {
			return b
		}
		if err := ValidateName(m.Name); err != nil {
			b.err = err
			return b
		}
		if _, dup := b.index[m.Name]; dup {
			b.err = fmt.Errorf("mechanism %s registered twice", m.Name)
			return b
		}
		if m.NewClient == nil && m.NewServer == nil {
			b.err = fmt.Errorf("mechanism %s implements neither side", m.Name)
			return b
		}
		mech := m
		b.index[m.Name] = len(b.mechs)
		b.mechs = append(b.mechs, &mech)
	}
	return b
}

// Build freezes the registry. The builder must not be reused afterwards.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	r := &Registry{
		mechs: b.mechs,
		index: b.index,
	}
	b.mechs, b.index = nil, nil
	return r, nil
}

// Registry is the read-only set of available mechanisms. It is safe for
// concurrent use since nothing mutates it after Build.
type Registry struct {
	mechs []*Mechanism
	index map[string]int
}

// Lookup finds a mechanism by name. Names are matched case-insensitively.
func (r *Registry) Lookup(name string) (*Mechanism, error) {
	if i, ok := r.index[strings.ToUpper(name)]; ok {
		return r.mechs[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMechanism, name)
}

// Names lists every registered mechanism in preference order.
func (r *Registry) Names() []string {
	return r.names(func(*Mechanism) bool { return true })
}

// ClientNames lists mechanisms with a client side in preference order.
func (r *Registry) ClientNames() []string {
	return r.names(func(m *Mechanism) bool { return m.Supports(Client) })
}

// ServerNames lists mechanisms with a server side in preference order.
func (r *Registry) ServerNames() []string {
	return r.names(func(m *Mechanism) bool { return m.Supports(Server) })
}

func (r *Registry) names(keep func(*Mechanism) bool) []string {
	ranked := r.ranked()
	names := make([]string, 0, len(ranked))
	for _, m := range ranked {
		if keep(m) {
			names = append(names, m.Name)
		}
	}
	return names
}

// ranked returns mechanisms by descending rank; the sort is stable so equal
// ranks keep registration order.
func (r *Registry) ranked() []*Mechanism {
	ranked := make([]*Mechanism, len(r.mechs))
	copy(ranked, r.mechs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rank > ranked[j].Rank
	})
	return ranked
}

// Negotiate picks the highest ranked mechanism from the peer's offer that
// this registry can run as role. Unknown names in the offer are ignored.
// Ties are broken by registration order.
func (r *Registry) Negotiate(offered []string, role Role) (*Mechanism, error) {
	want := make(map[string]bool, len(offered))
	for _, name := range offered {
		want[strings.ToUpper(strings.TrimSpace(name))] = true
	}
	for _, m := range r.ranked() {
		if want[m.Name] && m.Supports(role) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: offered %v, available %v", ErrNoCommonMechanism, offered, r.Names())
}
