// Package envelope decrypts the password-encrypted payloads served by the
// upstream incident API.
//
// The scheme is the one produced by CryptoJS/OpenSSL "Salted__" encryption:
// an MD5 EVP_BytesToKey derivation of an AES-256 key from a shared secret and
// an 8-byte salt, AES-CBC, and PKCS#7 padding. There is no authentication tag,
// so a wrong secret is only detected when the padding fails to validate.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// IVSize is the CBC initialization vector length (one AES block).
	IVSize = aes.BlockSize
	// SaltSize is the length of the per-message salt.
	SaltSize = 8
)

var (
	ErrInvalidParameters = errors.New("envelope: invalid key derivation parameters")
	ErrInvalidLength     = errors.New("envelope: ciphertext length is not a positive multiple of the block size")
	ErrMalformedPadding  = errors.New("envelope: malformed padding")
	ErrMissingField      = errors.New("envelope: missing field")
	ErrMalformedEnvelope = errors.New("envelope: malformed envelope")
)

// Envelope is one encrypted response as received over the wire.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	Salt       []byte
}

// Decrypt recovers the plaintext of env using secret.
//
// The IV carried by the envelope is used when present; otherwise the IV from
// the key derivation stream is used. Honest CryptoJS payloads carry the
// derived IV, so both paths agree.
func Decrypt(env Envelope, secret []byte) ([]byte, error) {
	ct := env.Ciphertext
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(ct))
	}

	key, derivedIV, err := DeriveKey(secret, env.Salt, KeySize, IVSize)
	if err != nil {
		return nil, err
	}
	iv := env.IV
	if len(iv) == 0 {
		iv = derivedIV
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv is %d bytes", ErrInvalidLength, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	return unpad(padded)
}

// Encrypt is the inverse of Decrypt. The returned envelope carries the
// derived IV, as CryptoJS does.
func Encrypt(plaintext, secret, salt []byte) (Envelope, error) {
	if len(salt) != SaltSize {
		return Envelope{}, fmt.Errorf("%w: salt is %d bytes", ErrInvalidParameters, len(salt))
	}
	key, iv, err := DeriveKey(secret, salt, KeySize, IVSize)
	if err != nil {
		return Envelope{}, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}

	padded := pad(plaintext)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return Envelope{
		Ciphertext: ct,
		IV:         iv,
		Salt:       bytes.Clone(salt),
	}, nil
}

// unpad strips PKCS#7 padding. The final byte p must satisfy
// 1 <= p <= block size and the last p bytes must all equal p.
func unpad(b []byte) ([]byte, error) {
	p := int(b[len(b)-1])
	if p == 0 || p > aes.BlockSize {
		return nil, fmt.Errorf("%w: pad length %d", ErrMalformedPadding, p)
	}
	for _, c := range b[len(b)-p:] {
		if int(c) != p {
			return nil, fmt.Errorf("%w: inconsistent pad bytes", ErrMalformedPadding)
		}
	}
	return b[:len(b)-p], nil
}

func pad(b []byte) []byte {
	p := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b), len(b)+p)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(p)}, p)...)
}
