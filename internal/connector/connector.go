package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
)

// Poller fetches and normalizes the incidents of one upstream source.
// The source's ID selects the feed; its display name is stamped on the
// resulting incidents.
type Poller interface {
	Poll(ctx context.Context, src model.Source) (Result, error)
}

// Result is the outcome of one successful poll.
type Result struct {
	Active []model.Incident
	Recent []model.Incident
	// Skipped counts records dropped during normalization.
	Skipped int
}

// Config holds provider connection settings.
type Config struct {
	Provider   string
	Endpoint   string
	Secret     string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// ErrorCode categorizes per-source poll failures.
type ErrorCode string

const (
	// CodeTransport covers timeouts, non-2xx statuses and connection failures.
	CodeTransport ErrorCode = "TRANSPORT"

	// CodeMissingEnvelope indicates a response without ct, iv or s.
	CodeMissingEnvelope ErrorCode = "MISSING_ENVELOPE"

	// CodeMalformedEnvelope indicates envelope fields that cannot be decoded.
	CodeMalformedEnvelope ErrorCode = "MALFORMED_ENVELOPE"

	// CodeDecrypt indicates bad ciphertext length or padding.
	CodeDecrypt ErrorCode = "DECRYPT"

	// CodeDecode indicates plaintext that is not valid JSON text.
	CodeDecode ErrorCode = "DECODE"

	// CodeShape indicates a document whose containers have the wrong kind.
	CodeShape ErrorCode = "SHAPE"
)

// PollError is a per-source failure. It never aborts a cycle.
type PollError struct {
	Code     ErrorCode
	SourceID string
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s: source %s: %v", e.Code, e.SourceID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// CodeOf returns the PollError code in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var pe *PollError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
