package homeserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pubsync/pubsync/internal/apperr"
	"github.com/pubsync/pubsync/internal/common"
	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/metrics"
)

const serviceName = "homeserver"

// tokenLeeway is how close to expiry a cached session token may get before
// it is refreshed.
const tokenLeeway = 30 * time.Second

// Client is the HTTP implementation of Service. It caches the session token
// and refreshes it through the TokenSource when the JWT is about to expire.
type Client struct {
	baseURL string
	http    *http.Client
	errs    *apperr.Factory
	policy  *apperr.RetryPolicy
	reqs    *metrics.Requests
	tokens  TokenSource

	mu    sync.Mutex
	token string
}

var _ Service = (*Client)(nil)

// NewClient builds a Client against baseURL. When policy is nil a default is
// used with 404 retries disabled: a homeserver 404 is a definitive answer,
// not indexer lag.
func NewClient(baseURL string, timeout time.Duration, log logging.Logger, tokens TokenSource, policy *apperr.RetryPolicy, reqs *metrics.Requests) *Client {
	if policy == nil {
		policy = apperr.DefaultRetryPolicy()
		policy.Limits.NotFound = 0
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		errs:    apperr.NewFactory(serviceName, log),
		policy:  policy,
		reqs:    reqs,
		tokens:  tokens,
	}
}

func (c *Client) Request(ctx context.Context, verb, rawURL string, body []byte) ([]byte, error) {
	op := "request_" + strings.ToLower(verb)
	return c.do(ctx, op, verb, rawURL, body)
}

func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, "get", http.MethodGet, rawURL, nil)
}

func (c *Client) Put(ctx context.Context, rawURL string, body []byte) error {
	_, err := c.do(ctx, "put", http.MethodPut, rawURL, body)
	return err
}

func (c *Client) Delete(ctx context.Context, rawURL string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, rawURL, nil)
	return err
}

// List fetches the record addresses under dirURL. The homeserver answers
// with a JSON array of fully-qualified pubky URLs.
func (c *Client) List(ctx context.Context, dirURL string) ([]string, error) {
	const op = "list"

	data, err := c.do(ctx, op, http.MethodGet, dirURL, nil)
	if err != nil {
		return nil, err
	}
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, c.errs.New(apperr.CategoryServer, apperr.CodeInvalidResponse, op, err)
	}
	return urls, nil
}

// do performs one authenticated request with policy-driven retries. The
// homeserver's record operations are idempotent, so verbs other than GET are
// safe to retry.
func (c *Client) do(ctx context.Context, op, verb, rawURL string, body []byte) ([]byte, error) {
	httpURL, err := c.resolve(rawURL)
	if err != nil {
		return nil, c.errs.New(apperr.CategoryValidation, apperr.CodeInvalidInput, op, err)
	}

	var out []byte
	err = apperr.Do(ctx, c.policy, func(ctx context.Context) error {
		token, err := c.sessionToken(ctx)
		if err != nil {
			return c.errs.New(apperr.CategoryAuth, apperr.CodeTokenExpired, op, err)
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, verb, httpURL, rd)
		if err != nil {
			return c.errs.New(apperr.CategoryValidation, apperr.CodeInvalidInput, op, err)
		}
		req.Header.Set(common.SessionTokenHeaderName, "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return c.errs.FromTransport(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			// The server may have revoked the session; drop the cached token
			// so the next request re-authenticates.
			c.invalidateToken(token)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return c.errs.FromHTTPStatus(resp.StatusCode, op, fmt.Errorf("%s %s", verb, rawURL))
		}

		out, err = io.ReadAll(resp.Body)
		if err != nil {
			return c.errs.New(apperr.CategoryNetwork, apperr.CodeConnectionFailed, op, err)
		}
		return nil
	})

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	c.reqs.Record(serviceName, op, outcome)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolve translates a pubky:// address into an HTTP URL on the configured
// homeserver. Plain http(s) URLs pass through untouched.
func (c *Client) resolve(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL, nil
	}
	rest, ok := strings.CutPrefix(rawURL, "pubky://")
	if !ok || rest == "" {
		return "", fmt.Errorf("unsupported url %q", rawURL)
	}
	return c.baseURL + "/" + rest, nil
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.token
	c.mu.Unlock()

	if cached != "" && !tokenExpired(cached) {
		return cached, nil
	}

	token, err := c.tokens(ctx)
	if err != nil {
		return "", fmt.Errorf("refreshing session token: %w", err)
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) invalidateToken(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
}

// tokenExpired inspects the token's exp claim without verifying the
// signature; verification is the homeserver's job. Tokens without an exp
// claim are treated as long-lived.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < tokenLeeway
}
