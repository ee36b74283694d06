package source

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorFromResponse classifies a non-2xx HTTP response into the adapter
// error taxonomy. retryAfter is the raw Retry-After header value, if any.
func ErrorFromResponse(sourceName, endpoint string, statusCode int, body []byte, retryAfter string) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{
			Source: sourceName,
			Reason: "status " + strconv.Itoa(statusCode) + ": " + truncate(string(body), 200),
		}
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return &RateLimitError{
			Source:     sourceName,
			Endpoint:   endpoint,
			StatusCode: statusCode,
			Hint:       parseRetryAfter(retryAfter),
		}
	default:
		return &APIError{
			Source:     sourceName,
			Endpoint:   endpoint,
			StatusCode: statusCode,
			Body:       truncate(string(body), 200),
		}
	}
}

// parseRetryAfter interprets a Retry-After header carrying either a delay
// in seconds or an HTTP date. Unparseable values yield zero, letting the
// retry policy fall back to computed backoff.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
