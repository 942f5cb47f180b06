// utils/fetch.go
package utils

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Surfaced to callers when retries are exhausted, so a "try again later"
// condition is distinguishable from an invalid request.
var (
	ErrRateLimitExceeded   = errors.New("rate limit exceeded, wait before retrying")
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")
)

// RateLimitedClient wraps outbound calls to a single upstream provider with
// minimum inter-request spacing, retry-after handling for 429 responses, and
// exponential backoff for transient transport failures. Each provider gets its
// own instance so one provider's limits never stall another's requests.
type RateLimitedClient struct {
	Client      *http.Client
	MinInterval time.Duration // enforced spacing before every request
	MaxRetries  int
	RetryDelay  time.Duration // base delay for non-429 retries

	mu          sync.Mutex
	lastRequest time.Time
	sleep       func(time.Duration)
}

func NewRateLimitedClient(minInterval time.Duration, maxRetries int, retryDelay time.Duration) *RateLimitedClient {
	return &RateLimitedClient{
		Client:      HTTPClient,
		MinInterval: minInterval,
		MaxRetries:  maxRetries,
		RetryDelay:  retryDelay,
		sleep:       time.Sleep,
	}
}

// space blocks until MinInterval has elapsed since the previous request.
func (c *RateLimitedClient) space() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < c.MinInterval {
		wait := c.MinInterval - elapsed
		log.Printf("Rate limiting: waiting %v before next request", wait)
		c.mu.Unlock()
		c.sleep(wait)
		c.mu.Lock()
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// Do executes req with spacing and retries. A non-429 HTTP response is
// returned as-is for the caller to interpret; the caller owns the body.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	c.space()

	var lastErr error
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
			req.Body = body
		}

		resp, err := c.Client.Do(req)
		if err != nil {
			lastErr = err
			wait := c.RetryDelay * time.Duration(attempt+1)
			log.Printf("Request to %s failed, retrying in %v (%d/%d): %v",
				req.URL.Host, wait, attempt+1, c.MaxRetries, err)
			c.sleep(wait)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp)
			resp.Body.Close()
			lastErr = ErrRateLimitExceeded
			log.Printf("Rate limit from %s, waiting %v before retry (%d/%d)",
				req.URL.Host, wait, attempt+1, c.MaxRetries)
			c.sleep(wait)
			continue
		}

		return resp, nil
	}

	if errors.Is(lastErr, ErrRateLimitExceeded) {
		return nil, ErrRateLimitExceeded
	}
	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// retryAfter reads the provider-specified wait from a 429 response, falling
// back to one second when the header is absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
