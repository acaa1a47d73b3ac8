// FILE: src/internal/primitive/primitive.go
package primitive

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// ErrContract marks a misuse of a primitive. It is raised with panic, never returned.
var ErrContract = errors.New("primitive contract violation")

// Provider is a fixed-output hash family with its HMAC and PBKDF2 derivatives.
// All methods are pure and safe for concurrent use.
type Provider interface {
	// Name is the IANA-style hash name used in mechanism names ("SHA-256").
	Name() string
	// Size is the output length in bytes of Hash, HMAC and KDF.
	Size() int
	Hash(data []byte) []byte
	HMAC(key, message []byte) []byte
	KDF(password, salt []byte, iterations int) []byte
}

type family struct {
	name string
	size int
	new  func() hash.Hash
}

var (
	SHA1   Provider = &family{name: "SHA-1", size: sha1.Size, new: sha1.New}
	SHA256 Provider = &family{name: "SHA-256", size: sha256.Size, new: sha256.New}
	SHA512 Provider = &family{name: "SHA-512", size: sha512.Size, new: sha512.New}
)

// ByName returns the provider registered under name.
func ByName(name string) (Provider, bool) {
	switch name {
	case "SHA-1":
		return SHA1, true
	case "SHA-256":
		return SHA256, true
	case "SHA-512":
		return SHA512, true
	}
	return nil, false
}

func (f *family) Name() string { return f.name }
func (f *family) Size() int    { return f.size }

func (f *family) Hash(data []byte) []byte {
	h := f.new()
	h.Write(data)
	return h.Sum(nil)
}

func (f *family) HMAC(key, message []byte) []byte {
	if len(key) == 0 {
		panic(fmt.Errorf("%w: %s HMAC with empty key", ErrContract, f.name))
	}
	mac := hmac.New(f.new, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func (f *family) KDF(password, salt []byte, iterations int) []byte {
	if iterations < 1 {
		panic(fmt.Errorf("%w: %s KDF with %d iterations", ErrContract, f.name, iterations))
	}
	if len(salt) == 0 {
		panic(fmt.Errorf("%w: %s KDF with empty salt", ErrContract, f.name))
	}
	return pbkdf2.Key(password, salt, iterations, f.size, f.new)
}

// XOR returns a ^ b. Both slices must have the same length.
func XOR(a, b []byte) []byte {
	if len(a) != len(b) {
		panic(fmt.Errorf("%w: xor length mismatch %d != %d", ErrContract, len(a), len(b)))
	}
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}

// Equal compares in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
