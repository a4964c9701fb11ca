// Package decode turns decrypted plaintext into loosely-typed records.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	ErrInvalidEncoding = errors.New("decode: plaintext is not valid UTF-8")
	ErrSyntax          = errors.New("decode: invalid JSON")
	ErrUnexpectedShape = errors.New("decode: unexpected shape")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Document is a decoded top-level JSON object.
type Document map[string]any

// Decoder parses plaintext into a Document.
type Decoder struct {
	parse func([]byte) (any, error)
}

// New returns a Decoder backed by encoding/json. Numbers are kept as
// json.Number so coordinates and ids round-trip without float formatting.
func New() *Decoder {
	return &Decoder{parse: parseJSON}
}

// Decode parses plaintext as a JSON object. Upstream sometimes encodes the
// document twice, so a top-level JSON string is parsed exactly once more;
// anything other than an object after that is ErrUnexpectedShape.
func (d *Decoder) Decode(plaintext []byte) (Document, error) {
	if !utf8.Valid(plaintext) {
		return nil, ErrInvalidEncoding
	}
	plaintext = bytes.TrimPrefix(plaintext, utf8BOM)

	v, err := d.parse(plaintext)
	if err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok {
		v, err = d.parse([]byte(s))
		if err != nil {
			return nil, err
		}
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %s, want object", ErrUnexpectedShape, kind(v))
	}
	return Document(m), nil
}

func parseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after value", ErrSyntax)
	}
	return v, nil
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}
