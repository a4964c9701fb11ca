package pulsewatch

import (
	"log/slog"
	"time"
)

type options struct {
	endpoint     string
	secret       string
	userAgent    string
	timeout      time.Duration
	maxRetries   int
	requestDelay time.Duration
	sources      []string
	logger       *slog.Logger
}

// Option configures a Watcher.
type Option func(*options)

// WithEndpoint overrides the upstream API endpoint.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithSecret overrides the envelope passphrase.
func WithSecret(secret string) Option {
	return func(o *options) { o.secret = secret }
}

// WithUserAgent overrides the User-Agent sent upstream.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithTimeout sets the per-request timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxRetries sets how often a failed request is retried. Default: 0.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithRequestDelay sets the pause between sources within a cycle.
// Default: 1.5s.
func WithRequestDelay(d time.Duration) Option {
	return func(o *options) { o.requestDelay = d }
}

// WithSources sets the agency ids to poll, in poll order.
func WithSources(ids ...string) Option {
	return func(o *options) { o.sources = append(o.sources, ids...) }
}

// WithLogger sets the logger for cycle and poll events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func defaultOptions() options {
	return options{
		timeout:      30 * time.Second,
		requestDelay: 1500 * time.Millisecond,
	}
}
