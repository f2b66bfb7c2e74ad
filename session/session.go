// Package session wraps an HTTP client with the LMS session key and
// mobile API token, providing get/post/head with a fixed retry budget
// and per-call timeout policy.
package session

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/emily3403/isisdl-go/cmn"
)

const (
	defaultNumTries  = 4
	baseTimeout      = 5 * time.Second
	tubcloudBase     = 20 * time.Second
	timeoutMultiplier = 1.7

	tubcloudHost = "tubcloud.tu-berlin.de"
)

// Result is a scoped-cleanup-friendly replacement for the source's
// "Error-as-context-manager" pattern (Design Notes): success carries the
// response and a Close that must be deferred; failure carries a
// classified *cmn.Error and a nil response, so callers never null-check
// a response that might also be an error.
type Result struct {
	Response *http.Response
	Err      *cmn.Error
}

func (r Result) OK() bool { return r.Err == nil }

// Close safely closes the response body, a no-op on failure results.
func (r Result) Close() {
	if r.Response != nil && r.Response.Body != nil {
		io.Copy(io.Discard, io.LimitReader(r.Response.Body, 512))
		r.Response.Body.Close()
	}
}

// Session is the long-lived authenticated HTTP client.
type Session struct {
	client       *http.Client
	sessionKey   string
	mobileToken  string
	numTries     int
}

func New(client *http.Client, sessionKey, mobileToken string) *Session {
	if client == nil {
		client = &http.Client{}
	}
	return &Session{client: client, sessionKey: sessionKey, mobileToken: mobileToken, numTries: defaultNumTries}
}

func (s *Session) SessionKey() string  { return s.sessionKey }
func (s *Session) MobileToken() string { return s.mobileToken }

// normalizeURL rewrites scheme-less URLs to https://.
func normalizeURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

// timeoutFor computes the per-call timeout: no timeout for the LMS REST
// endpoint (it may legitimately block), a longer base for the known-slow
// tubcloud host, and base+multiplier^(1.7*attempt) otherwise.
func timeoutFor(rawURL string, attempt int, isLMSRest bool) time.Duration {
	if isLMSRest {
		return 0
	}
	base := baseTimeout
	if u, err := url.Parse(normalizeURL(rawURL)); err == nil && strings.Contains(u.Host, tubcloudHost) {
		base = tubcloudBase
	}
	growth := math.Pow(timeoutMultiplier, 1.7*float64(attempt))
	return base + time.Duration(growth*float64(time.Second))
}

// Get issues a GET request with retry and the per-call timeout policy.
// isLMSRest disables the timeout; the caller (the LMS endpoint adapter)
// knows which URLs are REST calls.
func (s *Session) Get(ctx context.Context, rawURL string, isLMSRest bool) Result {
	return s.do(ctx, http.MethodGet, rawURL, nil, isLMSRest)
}

func (s *Session) Post(ctx context.Context, rawURL string, body io.Reader, isLMSRest bool) Result {
	return s.do(ctx, http.MethodPost, rawURL, body, isLMSRest)
}

// Head issues a HEAD request with redirects disabled: callers inspect a
// 303 Location themselves.
func (s *Session) Head(ctx context.Context, rawURL string) Result {
	u := normalizeURL(rawURL)
	client := *s.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return Result{Err: cmn.WrapError(cmn.ErrTransientNetwork, err, "build HEAD request")}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: cmn.WrapError(cmn.ErrTransientNetwork, err, "HEAD %s", u)}
	}
	return Result{Response: resp}
}

func (s *Session) do(ctx context.Context, method, rawURL string, body io.Reader, isLMSRest bool) Result {
	u := normalizeURL(rawURL)

	// moodlemobile:// is delivered via redirect; intercept it as a
	// synthetic scheme rather than letting the OS scheme handler take
	// over.
	if token, ok := extractMoodleMobileToken(u); ok {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(token)),
			Header:     make(http.Header),
		}
		return Result{Response: resp}
	}

	var lastErr error
	for attempt := 0; attempt < s.numTries; attempt++ {
		timeout := timeoutFor(u, attempt, isLMSRest)
		reqCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, u, body)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			return Result{Err: cmn.WrapError(cmn.ErrTransientNetwork, err, "build %s request", method)}
		}

		resp, err := s.client.Do(req)
		if cancel != nil {
			defer cancel()
		}
		if err != nil {
			lastErr = err
			glog.Warningf("session: attempt %d/%d failed for %s: %v", attempt+1, s.numTries, u, err)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = errors.Errorf("server error %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// A non-2xx, non-5xx response (404, 403, ...) is not going
			// to change on retry: fail immediately as a permanent URL
			// error instead of returning it as if it were the artifact.
			resp.Body.Close()
			return Result{Err: cmn.WrapError(cmn.ErrPermanentURL, errors.Errorf("status %d", resp.StatusCode), "%s %s", method, u)}
		}
		return Result{Response: resp}
	}
	return Result{Err: cmn.WrapError(cmn.ErrTransientNetwork, lastErr, "exhausted %d retries for %s", s.numTries, u)}
}

// extractMoodleMobileToken returns the token embedded after "token=" in
// a moodlemobile:// URL.
func extractMoodleMobileToken(raw string) (string, bool) {
	const scheme = "moodlemobile://"
	if !strings.HasPrefix(raw, scheme) {
		return "", false
	}
	idx := strings.Index(raw, "token=")
	if idx < 0 {
		return "", true // scheme matched but no token: auth failure, caller checks for empty
	}
	rest := raw[idx+len("token="):]
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		rest = rest[:amp]
	}
	return rest, true
}
