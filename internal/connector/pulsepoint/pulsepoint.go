// Package pulsepoint polls the PulsePoint web API for one agency at a time.
package pulsepoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/connector"
	"github.com/crimson-sun/pulsewatch/internal/connector/httpclient"
	"github.com/crimson-sun/pulsewatch/internal/decode"
	"github.com/crimson-sun/pulsewatch/internal/envelope"
	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/normalize"
)

const (
	// DefaultEndpoint is the public web app API.
	DefaultEndpoint = "https://api.pulsepoint.org/v1/webapp"

	// DefaultSecret is the passphrase the web client uses for its payloads.
	DefaultSecret = "tombrady5rings"
)

// ErrNotFound is returned by AgencyInfo when the agency list is empty.
var ErrNotFound = errors.New("pulsepoint: agency not found")

func init() {
	connector.Register("pulsepoint", func(cfg connector.Config) (connector.Poller, error) {
		return New(cfg.Endpoint,
			WithSecret(cfg.Secret),
			WithHTTPOptions(
				httpclient.WithTimeout(cfg.Timeout),
				httpclient.WithMaxRetries(cfg.MaxRetries),
				httpclient.WithUserAgent(cfg.UserAgent),
			),
		), nil
	})
}

// AgencyInfo is the directory entry for one agency.
type AgencyInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	City  string `json:"city"`
	State string `json:"state"`
}

// Client implements connector.Poller against the PulsePoint API.
type Client struct {
	http       *httpclient.Client
	secret     []byte
	decoder    *decode.Decoder
	normalizer *normalize.Normalizer

	// construction-time settings
	tables   *normalize.Tables
	now      func() time.Time
	httpOpts []httpclient.Option
}

// Option configures a Client.
type Option func(*Client)

// WithSecret overrides the decryption passphrase.
func WithSecret(secret string) Option {
	return func(c *Client) {
		if secret != "" {
			c.secret = []byte(secret)
		}
	}
}

// WithTables overrides the call type and unit status lookups.
func WithTables(t *normalize.Tables) Option {
	return func(c *Client) { c.tables = t }
}

// WithClock overrides the clock used to stamp fetched incidents.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithHTTPOptions passes options through to the underlying HTTP client.
func WithHTTPOptions(opts ...httpclient.Option) Option {
	return func(c *Client) { c.httpOpts = append(c.httpOpts, opts...) }
}

// New creates a Client for endpoint, or DefaultEndpoint when it is empty.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		secret:  []byte(DefaultSecret),
		decoder: decode.New(),
		tables:  normalize.DefaultTables(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = httpclient.New(endpoint, c.httpOpts...)
	c.normalizer = normalize.New(c.tables, normalize.WithClock(c.now))
	return c
}

// Poll fetches one agency's active and recent incidents.
// Every failure is returned as a *connector.PollError.
func (c *Client) Poll(ctx context.Context, src model.Source) (connector.Result, error) {
	doc, err := c.fetch(ctx, "incidents", src.ID)
	if err != nil {
		return connector.Result{}, err
	}

	rs, err := doc.Section("incidents")
	if err != nil {
		return connector.Result{}, pollErr(connector.CodeShape, src.ID, err)
	}

	name := src.DisplayName
	if name == "" {
		name = src.ID
	}

	active, err := c.normalizer.Normalize(rs, src.ID, name, normalize.Active)
	if err != nil {
		return connector.Result{}, pollErr(connector.CodeShape, src.ID, err)
	}
	recent, err := c.normalizer.Normalize(rs, src.ID, name, normalize.Recent)
	if err != nil {
		return connector.Result{}, pollErr(connector.CodeShape, src.ID, err)
	}

	skipped := active.Skipped + recent.Skipped
	if skipped > 0 || active.DroppedUnits+recent.DroppedUnits > 0 {
		slog.Debug("dropped malformed records", "source", src.ID,
			"records", skipped, "units", active.DroppedUnits+recent.DroppedUnits)
	}

	return connector.Result{
		Active:  active.Incidents,
		Recent:  recent.Incidents,
		Skipped: skipped,
	}, nil
}

// AgencyInfo looks up an agency's name and location.
func (c *Client) AgencyInfo(ctx context.Context, id string) (AgencyInfo, error) {
	doc, err := c.fetch(ctx, "agencies", id)
	if err != nil {
		return AgencyInfo{}, err
	}
	list, err := doc.List("agencies")
	if err != nil {
		return AgencyInfo{}, pollErr(connector.CodeShape, id, err)
	}
	if len(list) == 0 {
		return AgencyInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec, ok := decode.AsRecord(list[0])
	if !ok {
		return AgencyInfo{}, pollErr(connector.CodeShape, id,
			fmt.Errorf("%w: agency entry is not an object", decode.ErrUnexpectedShape))
	}
	return AgencyInfo{
		ID:    rec.StringOr("agencyid", id),
		Name:  rec.String("agencyname"),
		City:  rec.String("city"),
		State: rec.String("state"),
	}, nil
}

// fetch requests one resource for one agency and returns the decrypted document.
func (c *Client) fetch(ctx context.Context, resource, id string) (decode.Document, error) {
	q := url.Values{}
	q.Set("resource", resource)
	q.Set("agencyid", id)

	body, err := c.http.Get(ctx, "", q)
	if err != nil {
		return nil, pollErr(connector.CodeTransport, id, err)
	}

	env, err := envelope.ParseWire(body)
	if err != nil {
		if errors.Is(err, envelope.ErrMissingField) {
			return nil, pollErr(connector.CodeMissingEnvelope, id, err)
		}
		return nil, pollErr(connector.CodeMalformedEnvelope, id, err)
	}

	plaintext, err := envelope.Decrypt(env, c.secret)
	if err != nil {
		return nil, pollErr(connector.CodeDecrypt, id, err)
	}

	doc, err := c.decoder.Decode(plaintext)
	if err != nil {
		if errors.Is(err, decode.ErrUnexpectedShape) {
			return nil, pollErr(connector.CodeShape, id, err)
		}
		return nil, pollErr(connector.CodeDecode, id, err)
	}
	return doc, nil
}

func pollErr(code connector.ErrorCode, id string, err error) error {
	return &connector.PollError{Code: code, SourceID: id, Err: err}
}
