// Package fetch performs the pipeline's single outbound network operation:
// one policy-checked HTTP(S) GET against an evidence source URI. Every
// target, including each redirect hop, is validated against the SSRF policy
// before a connection is made. Policy and network failures are returned as
// data, never as errors.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options bounds a single fetch call.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
}

// DefaultOptions returns the budget the enrichment orchestrator uses.
func DefaultOptions() Options {
	return Options{
		Timeout:      12 * time.Second,
		MaxRedirects: 5,
		MaxBytes:     1_000_000,
	}
}

// Outcome is the tagged result of a fetch. OK distinguishes the success and
// failure shapes; Error carries the reason on failure and begins with
// "blocked:" for policy rejections.
type Outcome struct {
	OK             bool   `json:"ok"`
	FinalURL       string `json:"finalUrl,omitempty"`
	Status         int    `json:"status,omitempty"`
	ContentType    string `json:"contentType,omitempty"`
	ContentLength  int64  `json:"contentLength,omitempty"`
	SHA256         string `json:"sha256,omitempty"`
	BodyText       string `json:"-"`
	ExtractedTitle string `json:"extractedTitle,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Resolver looks up the IP addresses of a hostname. Injectable for tests.
type Resolver func(ctx context.Context, host string) ([]net.IP, error)

// Limiter gates outbound requests per target host.
type Limiter interface {
	Allow(ctx context.Context, host string) bool
}

// Fetcher issues policy-checked GETs.
type Fetcher struct {
	client   *http.Client
	resolver Resolver
	limiter  Limiter
	logger   *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithResolver overrides DNS resolution.
func WithResolver(r Resolver) Option {
	return func(f *Fetcher) { f.resolver = r }
}

// WithLimiter installs a per-host rate limiter.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithHTTPClient overrides the underlying client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New creates a Fetcher. Redirects are never followed automatically; the
// fetch loop re-validates each hop itself.
func New(logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		resolver: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
			return ips, nil
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs one policy-checked GET with bounded redirects and a byte
// cap. The returned Outcome is always usable; OK=false carries the reason.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) Outcome {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	current := rawURL
	for hop := 0; ; hop++ {
		target, err := url.Parse(current)
		if err != nil {
			return Outcome{OK: false, FinalURL: current, Error: "blocked: unparseable url"}
		}

		if reason := f.checkTarget(ctx, target); reason != "" {
			f.logger.Debug("fetch target rejected",
				zap.String("url", current),
				zap.String("reason", reason))
			return Outcome{OK: false, FinalURL: current, Error: reason}
		}

		if f.limiter != nil && !f.limiter.Allow(ctx, target.Hostname()) {
			return Outcome{OK: false, FinalURL: current, Error: "ratelimited: " + target.Hostname()}
		}

		resp, err := f.get(ctx, current)
		if err != nil {
			return Outcome{OK: false, FinalURL: current, Error: "request failed: " + err.Error()}
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				return Outcome{OK: false, FinalURL: current, Status: resp.StatusCode, Error: "redirect without location"}
			}
			if hop >= opts.MaxRedirects {
				return Outcome{OK: false, FinalURL: current, Status: resp.StatusCode, Error: "too many redirects"}
			}
			next, err := target.Parse(location)
			if err != nil {
				return Outcome{OK: false, FinalURL: current, Status: resp.StatusCode, Error: "blocked: unparseable redirect"}
			}
			current = next.String()
			continue
		}

		return f.readBody(resp, current, opts.MaxBytes)
	}
}

func (f *Fetcher) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "SignalForge/1.0 (+osint-pipeline)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,*/*;q=0.8")
	return f.client.Do(req)
}

// readBody streams at most maxBytes of the response, hashing exactly the
// bytes read, and extracts plain text (plus title for HTML).
func (f *Fetcher) readBody(resp *http.Response, finalURL string, maxBytes int64) Outcome {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return Outcome{
			OK:       false,
			FinalURL: finalURL,
			Status:   resp.StatusCode,
			Error:    "reading body: " + err.Error(),
		}
	}

	sum := sha256.Sum256(body)
	contentType := resp.Header.Get("Content-Type")

	out := Outcome{
		OK:            true,
		FinalURL:      finalURL,
		Status:        resp.StatusCode,
		ContentType:   contentType,
		ContentLength: int64(len(body)),
		SHA256:        hex.EncodeToString(sum[:]),
	}

	if strings.Contains(contentType, "text/html") {
		text, title := extractHTML(body)
		out.BodyText = text
		out.ExtractedTitle = title
	} else {
		out.BodyText = string(body)
	}

	return out
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
