// FILE: src/internal/primitive/primitive_test.go
package primitive

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKDF_RFC6070(t *testing.T) {
	testCases := []struct {
		name       string
		iterations int
		expected   string
	}{
		{"OneIteration", 1, "0c60c80f961f0e71f3a9b524af6012062fe037a6"},
		{"TwoIterations", 2, "ea6c014dc72d6f8ccd1ed92ace1d41f0d8de8957"},
		{"4096Iterations", 4096, "4b007901b765489abead49d926f721d065a429c1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := SHA1.KDF([]byte("password"), []byte("salt"), tc.iterations)
			assert.Equal(t, tc.expected, hex.EncodeToString(out))
		})
	}
}

func TestProviderSizes(t *testing.T) {
	for _, p := range []Provider{SHA1, SHA256, SHA512} {
		t.Run(p.Name(), func(t *testing.T) {
			assert.Len(t, p.Hash([]byte("x")), p.Size())
			assert.Len(t, p.HMAC([]byte("k"), []byte("x")), p.Size())
			assert.Len(t, p.KDF([]byte("pw"), []byte("salt"), 2), p.Size())

			byName, ok := ByName(p.Name())
			require.True(t, ok)
			assert.Equal(t, p, byName)
		})
	}

	_, ok := ByName("MD5")
	assert.False(t, ok)
}

func TestContractViolationsPanic(t *testing.T) {
	assertContract := func(t *testing.T, fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			assert.True(t, errors.Is(err, ErrContract))
		}()
		fn()
	}

	t.Run("EmptyHMACKey", func(t *testing.T) {
		assertContract(t, func() { SHA256.HMAC(nil, []byte("msg")) })
	})
	t.Run("ZeroIterations", func(t *testing.T) {
		assertContract(t, func() { SHA256.KDF([]byte("pw"), []byte("salt"), 0) })
	})
	t.Run("EmptySalt", func(t *testing.T) {
		assertContract(t, func() { SHA256.KDF([]byte("pw"), nil, 1) })
	})
	t.Run("XORLengthMismatch", func(t *testing.T) {
		assertContract(t, func() { XOR([]byte{1}, []byte{1, 2}) })
	})
}

func TestXORAndZero(t *testing.T) {
	a := []byte{0xff, 0x00, 0x55}
	b := []byte{0x0f, 0xf0, 0x55}
	assert.Equal(t, []byte{0xf0, 0xf0, 0x00}, XOR(a, b))
	assert.True(t, Equal(XOR(XOR(a, b), b), a))

	Zero(a)
	assert.Equal(t, []byte{0, 0, 0}, a)
}
