package mafather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

const csrfFlightKey = "csrf"

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// csrfToken returns the anti-forgery cookie value held by the jar for the
// backend, or "".
func (c *Client) csrfToken() string {
	if c.httpClient.Jar == nil {
		return ""
	}
	u, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return ""
	}
	for _, ck := range c.httpClient.Jar.Cookies(u) {
		if ck.Name == c.endpoints.CSRFCookie {
			return ck.Value
		}
	}
	return ""
}

// ensureCSRF fetches the anti-forgery cookie when the jar has none. Concurrent
// callers share one fetch. A failed fetch is logged and the call goes ahead
// without the header.
func (c *Client) ensureCSRF(ctx context.Context) string {
	if tok := c.csrfToken(); tok != "" {
		return tok
	}
	_, err, shared := c.csrfGroup.Do(csrfFlightKey, func() (interface{}, error) {
		// A flight that finished just before this one may have set it.
		if c.csrfToken() != "" {
			return nil, nil
		}
		return nil, c.fetchCSRF(ctx)
	})
	if err != nil {
		c.log.Warn("csrf token fetch failed", zap.Error(err), zap.Bool("shared", shared))
		return ""
	}
	tok := c.csrfToken()
	if tok == "" {
		c.log.Warn("csrf endpoint did not set a token cookie", zap.String("cookie", c.endpoints.CSRFCookie))
	}
	return tok
}

func (c *Client) fetchCSRF(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.endpoints.CSRF, nil)
	if err != nil {
		return fmt.Errorf("failed to create csrf request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("csrf request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("csrf request failed (%d)", resp.StatusCode)
	}
	return nil
}
