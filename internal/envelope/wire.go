package envelope

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// wireEnvelope is the JSON body of an upstream response:
// {"ct": base64 ciphertext, "iv": hex IV, "s": hex salt}.
type wireEnvelope struct {
	CT *string `json:"ct"`
	IV *string `json:"iv"`
	S  *string `json:"s"`
}

// ParseWire decodes a response body into an Envelope.
// A body lacking any of the three fields fails with ErrMissingField; a body
// that is not JSON, or whose fields do not decode, fails with ErrMalformedEnvelope.
func ParseWire(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch {
	case w.CT == nil:
		return Envelope{}, fmt.Errorf("%w: ct", ErrMissingField)
	case w.IV == nil:
		return Envelope{}, fmt.Errorf("%w: iv", ErrMissingField)
	case w.S == nil:
		return Envelope{}, fmt.Errorf("%w: s", ErrMissingField)
	}

	ct, err := base64.StdEncoding.DecodeString(*w.CT)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: ct: %v", ErrMalformedEnvelope, err)
	}
	iv, err := hex.DecodeString(*w.IV)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: iv: %v", ErrMalformedEnvelope, err)
	}
	if len(iv) != IVSize {
		return Envelope{}, fmt.Errorf("%w: iv is %d bytes, want %d", ErrMalformedEnvelope, len(iv), IVSize)
	}
	salt, err := hex.DecodeString(*w.S)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: s: %v", ErrMalformedEnvelope, err)
	}
	if len(salt) != SaltSize {
		return Envelope{}, fmt.Errorf("%w: salt is %d bytes, want %d", ErrMalformedEnvelope, len(salt), SaltSize)
	}

	return Envelope{Ciphertext: ct, IV: iv, Salt: salt}, nil
}

// MarshalWire encodes env in the upstream JSON form.
func MarshalWire(env Envelope) ([]byte, error) {
	ct := base64.StdEncoding.EncodeToString(env.Ciphertext)
	iv := hex.EncodeToString(env.IV)
	s := hex.EncodeToString(env.Salt)
	return json.Marshal(wireEnvelope{CT: &ct, IV: &iv, S: &s})
}
