package hostfuncs

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/datenlord/wbpf-userspace/domain/entities"
)

// DefaultKeySize is the AES key size used by CryptoBundle (AES-128).
const DefaultKeySize = 16

type cryptoConfig struct {
	keySize int
}

// CryptoOption configures CryptoBundle.
type CryptoOption func(*cryptoConfig)

// WithKeySize selects AES-128, AES-192 or AES-256 by key length in bytes.
func WithKeySize(n int) CryptoOption {
	return func(c *cryptoConfig) {
		c.keySize = n
	}
}

// CryptoBundle returns in-place AES-CBC helpers over guest memory:
// aes_cbc_encrypt and aes_cbc_decrypt. Both take (buf, len, key, iv).
func CryptoBundle(opts ...CryptoOption) HostFuncBundle {
	cfg := cryptoConfig{keySize: DefaultKeySize}
	for _, opt := range opts {
		opt(&cfg)
	}
	sig := entities.Sig(params(i32, i32, i32, i32), i32)
	return &staticBundle{
		funcs: []HostFunction{
			NewFunction(AESEncryptFunc, sig, cfg.cbc(true)),
			NewFunction(AESDecryptFunc, sig, cfg.cbc(false)),
		},
	}
}

func (c cryptoConfig) cbc(encrypt bool) Handler {
	return func(hc HostContext, args []uint64) (uint64, error) {
		mem := hc.Memory()
		if mem == nil {
			return 0, NewValidationError(hc.FunctionName(), "no guest memory")
		}
		buf, n, keyPtr, ivPtr := ArgPtr(args, 0), ArgPtr(args, 1), ArgPtr(args, 2), ArgPtr(args, 3)

		key, err := mem.Read(keyPtr, uint32(c.keySize))
		if err != nil {
			return 0, NewHostFault(hc.FunctionName(), err)
		}
		iv, err := mem.Read(ivPtr, aes.BlockSize)
		if err != nil {
			return 0, NewHostFault(hc.FunctionName(), err)
		}
		data, err := mem.Read(buf, n)
		if err != nil {
			return 0, NewHostFault(hc.FunctionName(), err)
		}

		if encrypt {
			err = EncryptCBC(key, iv, data)
		} else {
			err = DecryptCBC(key, iv, data)
		}
		if err != nil {
			return 0, NewHostFault(hc.FunctionName(), err)
		}
		if err := mem.Write(buf, data); err != nil {
			return 0, NewHostFault(hc.FunctionName(), err)
		}
		return 0, nil
	}
}

// EncryptCBC encrypts buf in place. len(buf) must be a multiple of the block size.
func EncryptCBC(key, iv, buf []byte) error {
	block, err := newBlock(key, iv, buf)
	if err != nil {
		return err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	return nil
}

// DecryptCBC decrypts buf in place. len(buf) must be a multiple of the block size.
func DecryptCBC(key, iv, buf []byte) error {
	block, err := newBlock(key, iv, buf)
	if err != nil {
		return err
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, buf)
	return nil
}

func newBlock(key, iv, buf []byte) (cipher.Block, error) {
	if len(buf)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of %d", len(buf), aes.BlockSize)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv length %d, want %d", len(iv), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	return block, nil
}
