package envelope

import (
	"crypto/md5"
	"fmt"
)

// DeriveKey reproduces OpenSSL's EVP_BytesToKey with MD5 and a single
// iteration: D_0 = MD5(secret || salt), D_i = MD5(D_(i-1) || secret || salt),
// concatenated until keyLen+ivLen bytes exist. The key is the first keyLen
// bytes of that stream and the IV the next ivLen bytes.
func DeriveKey(secret, salt []byte, keyLen, ivLen int) (key, iv []byte, err error) {
	if keyLen <= 0 || ivLen < 0 {
		return nil, nil, fmt.Errorf("%w: keyLen=%d ivLen=%d", ErrInvalidParameters, keyLen, ivLen)
	}

	need := keyLen + ivLen
	stream := make([]byte, 0, need+md5.Size)
	var block []byte
	for len(stream) < need {
		h := md5.New()
		h.Write(block)
		h.Write(secret)
		h.Write(salt)
		block = h.Sum(nil)
		stream = append(stream, block...)
	}

	key = make([]byte, keyLen)
	copy(key, stream[:keyLen])
	iv = make([]byte, ivLen)
	copy(iv, stream[keyLen:need])
	return key, iv, nil
}
