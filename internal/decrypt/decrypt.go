package decrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// Method is an HLS encryption method understood by the Decryptor.
type Method string

const (
	// MethodAES is plain AES in ECB mode with PKCS7 padding.
	MethodAES Method = "AES"
	// MethodAES128 is AES-128 CBC with PKCS7 padding.
	MethodAES128 Method = "AES-128"
	// MethodAES128CTR is AES-128 in counter mode without padding.
	MethodAES128CTR Method = "AES-128-CTR"
)

var (
	ErrInvalidIV         = errors.New("decrypt: invalid IV")
	ErrInvalidKey        = errors.New("decrypt: invalid key")
	ErrUnsupportedMethod = errors.New("decrypt: unsupported method")
	ErrInvalidLength     = errors.New("decrypt: ciphertext is not a multiple of the block size")
	ErrInvalidPadding    = errors.New("decrypt: invalid PKCS7 padding")
)

// Decryptor decrypts segment payloads for one key. It holds no per-call
// state and can be shared by all workers of a track.
type Decryptor struct {
	method Method
	block  cipher.Block
	iv     []byte
}

// NewDecryptor validates key and iv for method. The IV is required for
// AES-128 and AES-128-CTR and ignored for AES.
func NewDecryptor(method Method, key, iv []byte) (*Decryptor, error) {
	block, err := newBlock(method, key)
	if err != nil {
		return nil, err
	}
	d := &Decryptor{method: method, block: block}
	if method != MethodAES {
		if err := checkIV(iv); err != nil {
			return nil, err
		}
		d.iv = append([]byte(nil), iv...)
	}
	return d, nil
}

// Method returns the method the Decryptor was built for.
func (d *Decryptor) Method() Method { return d.method }

// Decrypt decrypts ciphertext with the IV given to NewDecryptor.
func (d *Decryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	return d.DecryptWithIV(ciphertext, d.iv)
}

// DecryptWithIV decrypts ciphertext with an explicit IV, as used when the IV
// is derived per segment from its media sequence number.
func (d *Decryptor) DecryptWithIV(ciphertext, iv []byte) ([]byte, error) {
	switch d.method {
	case MethodAES:
		// ECB works on full blocks and carries no padding.
		if len(ciphertext)%aes.BlockSize != 0 {
			return nil, ErrInvalidLength
		}
		out := make([]byte, len(ciphertext))
		for i := 0; i < len(ciphertext); i += aes.BlockSize {
			d.block.Decrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
		}
		return out, nil
	case MethodAES128:
		if err := checkIV(iv); err != nil {
			return nil, err
		}
		if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
			return nil, ErrInvalidLength
		}
		out := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(d.block, iv).CryptBlocks(out, ciphertext)
		return unpad(out)
	case MethodAES128CTR:
		if err := checkIV(iv); err != nil {
			return nil, err
		}
		out := make([]byte, len(ciphertext))
		cipher.NewCTR(d.block, iv).XORKeyStream(out, ciphertext)
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, d.method)
}

// Encrypt is the inverse of Decrypt. CBC output is PKCS7-padded; ECB input
// must be block aligned.
func Encrypt(method Method, key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlock(method, key)
	if err != nil {
		return nil, err
	}
	switch method {
	case MethodAES:
		if len(plaintext)%aes.BlockSize != 0 {
			return nil, ErrInvalidLength
		}
		out := make([]byte, len(plaintext))
		for i := 0; i < len(plaintext); i += aes.BlockSize {
			block.Encrypt(out[i:i+aes.BlockSize], plaintext[i:i+aes.BlockSize])
		}
		return out, nil
	case MethodAES128:
		if err := checkIV(iv); err != nil {
			return nil, err
		}
		in := pad(plaintext)
		out := make([]byte, len(in))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, in)
		return out, nil
	default:
		if err := checkIV(iv); err != nil {
			return nil, err
		}
		out := make([]byte, len(plaintext))
		cipher.NewCTR(block, iv).XORKeyStream(out, plaintext)
		return out, nil
	}
}

func newBlock(method Method, key []byte) (cipher.Block, error) {
	switch method {
	case MethodAES:
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
		}
	case MethodAES128, MethodAES128CTR:
		if len(key) != 16 {
			return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return block, nil
}

func checkIV(iv []byte) error {
	if len(iv) != aes.BlockSize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidIV, aes.BlockSize, len(iv))
	}
	return nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
