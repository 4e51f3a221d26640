package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"google.golang.org/api/googleapi"

	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
)

// Kind is one retry-worthiness predicate.
type Kind int

const (
	KindAlways Kind = iota
	KindNetwork
	KindRateLimit
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindAlways:
		return "always"
	case KindNetwork:
		return "network"
	case KindRateLimit:
		return "rate_limit"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Condition is a logical OR over a closed set of predicates.
// The zero value matches every error.
type Condition struct {
	kinds []Kind
}

// Always retries any error.
func Always() Condition { return Condition{kinds: []Kind{KindAlways}} }

// Network retries connection-refused/reset and timeout failures.
func Network() Condition { return Condition{kinds: []Kind{KindNetwork}} }

// RateLimit retries HTTP 429 and "rate limit" failures.
func RateLimit() Condition { return Condition{kinds: []Kind{KindRateLimit}} }

// ServerError retries HTTP 5xx failures.
func ServerError() Condition { return Condition{kinds: []Kind{KindServerError}} }

// Transient is Any(Network(), RateLimit(), ServerError()).
func Transient() Condition { return Any(Network(), RateLimit(), ServerError()) }

// Any combines conditions; the result matches if any of them match.
func Any(conds ...Condition) Condition {
	var kinds []Kind
	seen := make(map[Kind]bool)
	for _, c := range conds {
		for _, k := range c.Kinds() {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	return Condition{kinds: kinds}
}

// Kinds lists the predicates in the condition.
func (c Condition) Kinds() []Kind {
	if len(c.kinds) == 0 {
		return []Kind{KindAlways}
	}
	return append([]Kind(nil), c.kinds...)
}

// Match reports whether err should be retried.
func (c Condition) Match(err error) bool {
	if err == nil {
		return false
	}
	for _, k := range c.Kinds() {
		switch k {
		case KindAlways:
			return true
		case KindNetwork:
			if IsNetworkError(err) {
				return true
			}
		case KindRateLimit:
			if IsRateLimitError(err) {
				return true
			}
		case KindServerError:
			if IsServerError(err) {
				return true
			}
		}
	}
	return false
}

var networkMarkers = []string{
	"econnrefused", "econnreset", "etimedout", "enotfound",
	"connection refused", "connection reset", "broken pipe",
	"timeout", "timed out", "no such host",
}

// IsNetworkError detects connection and timeout failures by error code,
// net.Error, or message substring.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || terrors.Is(err, terrors.ErrExecutionTimeout) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsRateLimitError detects HTTP 429 or a "rate limit" message.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// IsServerError detects HTTP 5xx responses.
func IsServerError(err error) bool {
	code := StatusCode(err)
	return code >= 500 && code <= 599
}

// StatusCode extracts an HTTP status from err, or 0 if none is known.
func StatusCode(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var withStatus interface{ HTTPStatus() int }
	if errors.As(err, &withStatus) {
		return withStatus.HTTPStatus()
	}
	return 0
}
