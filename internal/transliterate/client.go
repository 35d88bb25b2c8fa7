// Package transliterate is a client for the Google Input Tools
// transliteration service.
//
// Transliterate never fails from the caller's point of view: an empty word
// yields no candidates, and any error yields the word itself, so the result
// can always be spliced into a buffer.
package transliterate

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"kahani/internal/config"
	"kahani/internal/metrics"
	"kahani/internal/resilience"
)

// DefaultEndpoint is the public Input Tools endpoint.
const DefaultEndpoint = "https://inputtools.google.com/request"

// DefaultInputTool transliterates to Hindi.
const DefaultInputTool = "hi-t-i0-und"

// DefaultCount is the number of candidates requested when the caller asks
// for zero or fewer.
const DefaultCount = 5

const maxResponseBytes = 1 << 20

var (
	// ErrNotSuccess is returned when the service answers with a status
	// other than SUCCESS.
	ErrNotSuccess = errors.New("transliterate: service status not SUCCESS")

	// ErrBadResponse is returned for a body that does not have the
	// expected shape.
	ErrBadResponse = errors.New("transliterate: malformed response")

	// ErrNoCandidates is returned when a successful response lists nothing.
	ErrNoCandidates = errors.New("transliterate: no candidates")
)

//go:embed response.schema.json
var responseSchemaJSON []byte

var responseSchema = jsonschema.MustCompileString("response.schema.json", string(responseSchemaJSON))

// Client talks to the transliteration service. It is safe for concurrent use.
type Client struct {
	endpoint   string
	inputTool  string
	app        string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.Breaker
	metrics    *metrics.Metrics
	logger     *slog.Logger

	group singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint sets the service URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithInputTool sets the target-script code, e.g. "hi-t-i0-und".
func WithInputTool(itc string) Option {
	return func(c *Client) { c.inputTool = itc }
}

// WithApp sets the client name reported to the service.
func WithApp(app string) Option {
	return func(c *Client) { c.app = app }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithMetrics records request counts and latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client with defaults for anything not set by opts.
func New(opts ...Option) *Client {
	c := &Client{
		endpoint:  DefaultEndpoint,
		inputTool: DefaultInputTool,
		app:       "kahani",
		timeout:   3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.metrics == nil {
		c.metrics = metrics.Default()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "transliterate")
	if c.breaker == nil {
		m := c.metrics
		c.breaker = resilience.New(resilience.Options{
			Name:      "transliterate",
			IsFailure: isServiceFailure,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreaker(context.Background(), name, to.String())
			},
		})
	}
	return c
}

// FromConfig creates a client from the transliteration config section.
func FromConfig(cfg config.TransliterationConfig, opts ...Option) *Client {
	m := metrics.Default()
	base := []Option{
		WithEndpoint(cfg.Endpoint),
		WithInputTool(cfg.InputTool),
		WithApp(cfg.App),
		WithTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond),
		WithBreaker(resilience.New(resilience.Options{
			Name:        "transliterate",
			MaxFailures: cfg.BreakerMaxFailures,
			Cooldown:    time.Duration(cfg.BreakerResetSec) * time.Second,
			IsFailure:   isServiceFailure,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreaker(context.Background(), name, to.String())
			},
		})),
	}
	return New(append(base, opts...)...)
}

// isServiceFailure keeps caller cancellations from tripping the breaker.
func isServiceFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Transliterate returns up to count candidates for word, best first. An
// empty or blank word returns nil without a request. On any failure the
// result is []string{word}.
func (c *Client) Transliterate(ctx context.Context, word string, count int) []string {
	if strings.TrimSpace(word) == "" {
		return nil
	}
	cands, err := c.Lookup(ctx, word, count)
	if err != nil {
		c.logger.Debug("transliteration fell back", "word", word, "error", err)
		return []string{word}
	}
	return cands
}

// Lookup is Transliterate with the error exposed. Concurrent lookups of the
// same word and count share one request.
func (c *Client) Lookup(ctx context.Context, word string, count int) ([]string, error) {
	if strings.TrimSpace(word) == "" {
		return nil, nil
	}
	if count <= 0 {
		count = DefaultCount
	}

	key := word + "\x00" + strconv.Itoa(count)
	ch := c.group.DoChan(key, func() (any, error) {
		// detached so one caller giving up does not fail the others
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetchGuarded(reqCtx, word, count)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.metrics.RecordTransliterate(ctx, "shared", 0)
		}
		return res.Val.([]string), nil
	case <-ctx.Done():
		c.metrics.RecordTransliterate(ctx, "cancelled", 0)
		return nil, ctx.Err()
	}
}

func (c *Client) fetchGuarded(ctx context.Context, word string, count int) ([]string, error) {
	var cands []string
	start := time.Now()
	err := c.breaker.Do(func() error {
		var err error
		cands, err = c.fetch(ctx, word, count)
		return err
	})

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.metrics.RecordTransliterate(ctx, "open", 0)
	case err != nil:
		c.metrics.RecordTransliterate(ctx, "fallback", time.Since(start))
	default:
		c.metrics.RecordTransliterate(ctx, "ok", time.Since(start))
	}
	return cands, err
}

func (c *Client) requestURL(word string, count int) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("text", word)
	q.Set("itc", c.inputTool)
	q.Set("num", strconv.Itoa(count))
	q.Set("cp", "0")
	q.Set("cs", "1")
	q.Set("ie", "utf-8")
	q.Set("oe", "utf-8")
	q.Set("app", c.app)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetch(ctx context.Context, word string, count int) ([]string, error) {
	reqURL, err := c.requestURL(word, count)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseResponse(body, count)
}

// parseResponse validates an Input Tools body and extracts the candidates
// for the first token, NFC-normalised and capped at count.
func parseResponse(body []byte, count int) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrBadResponse
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if status := gjson.GetBytes(body, "0"); status.Type == gjson.String && status.Str != "SUCCESS" {
		return nil, fmt.Errorf("%w: %s", ErrNotSuccess, status.Str)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	var cands []string
	for _, r := range gjson.GetBytes(body, "1.0.1").Array() {
		s := norm.NFC.String(strings.TrimSpace(r.String()))
		if s == "" {
			continue
		}
		cands = append(cands, s)
		if count > 0 && len(cands) == count {
			break
		}
	}
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}
	return cands, nil
}
