package hostfuncs

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/internal/testutil"
)

func TestEncryptCBC_KnownVector(t *testing.T) {
	// NIST SP 800-38A F.2.1, first block.
	key, _ := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	iv, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	buf, _ := hex.DecodeString("6bc1bee22e409f96e93d7e117393172a")
	want, _ := hex.DecodeString("7649abac8119b246cee98e9b12e9197d")

	require.NoError(t, EncryptCBC(key, iv, buf))
	assert.Equal(t, want, buf)

	require.NoError(t, DecryptCBC(key, iv, buf))
	assert.Equal(t, "6bc1bee22e409f96e93d7e117393172a", hex.EncodeToString(buf))
}

func TestEncryptCBC_Errors(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)

	assert.ErrorContains(t, EncryptCBC(key, iv, make([]byte, 15)), "not a multiple of 16")
	assert.ErrorContains(t, EncryptCBC(key, iv[:8], make([]byte, 16)), "iv length")
	assert.ErrorContains(t, DecryptCBC(key[:5], iv, make([]byte, 16)), "aes")
}

func TestCryptoBundle_RoundTripInGuestMemory(t *testing.T) {
	const (
		bufAt = 0
		keyAt = 64
		ivAt  = 96
	)
	mem := testutil.NewMemory(128)
	plain := []byte("sixteen byte msgand 16 more byte")
	copy(mem.Bytes[bufAt:], plain)
	copy(mem.Bytes[keyAt:], "0123456789abcdef")
	copy(mem.Bytes[ivAt:], "fedcba9876543210")

	reg, err := NewRegistry(WithBundle(CryptoBundle()))
	require.NoError(t, err)
	ctx := context.Background()
	args := []uint64{bufAt, uint64(len(plain)), keyAt, ivAt}

	_, err = reg.Invoke(ctx, mem, AESEncryptFunc, args)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(plain, mem.Bytes[:len(plain)]))

	_, err = reg.Invoke(ctx, mem, AESDecryptFunc, args)
	require.NoError(t, err)
	assert.Equal(t, plain, mem.Bytes[:len(plain)])
}

func TestCryptoBundle_Faults(t *testing.T) {
	mem := testutil.NewMemory(64)
	reg, err := NewRegistry(WithBundle(CryptoBundle(WithKeySize(32))))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("bad length", func(t *testing.T) {
		_, err := reg.Invoke(ctx, mem, AESEncryptFunc, []uint64{0, 10, 0, 0})
		testutil.RequireTrap(t, err, errors.TrapHostFault)
	})
	t.Run("key outside memory", func(t *testing.T) {
		_, err := reg.Invoke(ctx, mem, AESEncryptFunc, []uint64{0, 16, 48, 0})
		testutil.RequireTrap(t, err, errors.TrapHostFault)
		testutil.RequireOutOfRange(t, err)
	})
	t.Run("no memory", func(t *testing.T) {
		_, err := reg.Invoke(ctx, nil, AESDecryptFunc, []uint64{0, 16, 0, 0})
		testutil.RequireTrap(t, err, errors.TrapHostFault)
	})
}
