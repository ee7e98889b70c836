// Package autherr classifies authentication failures and carries the
// per-kind retry policy. Classification is a pure lookup; applying the
// backoff (sleeping, counting attempts, giving up) is the caller's job.
package autherr

import (
	"errors"
	"net"
	"strings"
	"time"
)

// Kind is the closed taxonomy of auth failure kinds.
type Kind string

const (
	KindUnauthorized Kind = "401"
	KindForbidden    Kind = "403"
	KindRateLimited  Kind = "429"
	KindServerError  Kind = "5xx"
	KindNetwork      Kind = "network"
	KindExpired      Kind = "expired"
)

// Policy is a fixed backoff schedule for one error kind.
type Policy struct {
	Initial     time.Duration
	Factor      int
	Cap         time.Duration
	MaxAttempts int
}

// policies maps each kind to its retry schedule. A nil entry means the kind
// is never auto-retried: the pipeline pauses and waits for re-authentication.
var policies = map[Kind]*Policy{
	KindUnauthorized: nil,
	KindForbidden:    nil,
	KindExpired:      nil,
	KindRateLimited:  {Initial: 30 * time.Second, Factor: 2, Cap: 300 * time.Second, MaxAttempts: 5},
	KindServerError:  {Initial: 5 * time.Second, Factor: 2, Cap: 60 * time.Second, MaxAttempts: 3},
	KindNetwork:      {Initial: 2 * time.Second, Factor: 2, Cap: 30 * time.Second, MaxAttempts: 3},
}

// PolicyFor returns the backoff policy for a kind, or nil when the kind must
// pause immediately.
func PolicyFor(kind Kind) *Policy {
	return policies[kind]
}

// Retryable reports whether the kind has any automatic retry budget.
func Retryable(kind Kind) bool {
	return policies[kind] != nil
}

// Delay returns the backoff delay before the given retry attempt (1-based),
// capped at the policy's ceiling.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= time.Duration(p.Factor)
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Exhausted reports whether the attempt count has used up the retry budget.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Classify maps a raw failure (an HTTP status and/or a transport error) to an
// error kind. Status takes precedence; a zero status falls through to the
// error text.
func Classify(status int, err error) Kind {
	switch {
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindForbidden
	case status == 429:
		return KindRateLimited
	case status >= 500 && status <= 599:
		return KindServerError
	}

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return KindNetwork
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "token expired"), strings.Contains(msg, "credentials expired"),
			strings.Contains(msg, "oauth token has expired"):
			return KindExpired
		case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication failed"),
			strings.Contains(msg, "invalid api key"):
			return KindUnauthorized
		case strings.Contains(msg, "forbidden"), strings.Contains(msg, "permission denied"):
			return KindForbidden
		case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
			return KindRateLimited
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
			strings.Contains(msg, "no such host"), strings.Contains(msg, "timeout"),
			strings.Contains(msg, "network"):
			return KindNetwork
		}
	}

	// Unknown failures get the most conservative treatment: no auto-retry.
	return KindUnauthorized
}
