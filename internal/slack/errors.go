package slack

import (
	"context"
	"errors"
	"net"

	slackgo "github.com/slack-go/slack"
)

// Sentinel errors for the failure taxonomy. Lookup-style outcomes
// (NotFound, Ambiguous) are result variants on the cache, not errors.
var (
	// ErrAuth marks a credential failure. Never retried: retrying an
	// invalid token cannot succeed.
	ErrAuth = errors.New("slack: authentication failed")

	// ErrRetriesExhausted marks a call abandoned after the retry budget
	// ran out. The underlying cause is wrapped alongside it.
	ErrRetriesExhausted = errors.New("slack: retry budget exhausted")

	// ErrSearchUnavailable marks a search call attempted with a
	// bot-flavored token.
	ErrSearchUnavailable = errors.New("slack: search requires a user token")
)

// authErrorCodes are the API error strings that indicate a credential
// problem rather than a transient failure.
var authErrorCodes = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
	"no_permission":    true,
	"missing_scope":    true,
}

// IsAuthError reports whether err is a fatal credential failure.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}
	var ser slackgo.SlackErrorResponse
	if errors.As(err, &ser) {
		return authErrorCodes[ser.Err]
	}
	var sce slackgo.StatusCodeError
	if errors.As(err, &sce) {
		return sce.Code == 401 || sce.Code == 403
	}
	return false
}

// IsRateLimited reports whether err carries an explicit rate-limit signal
// and, if so, the server-directed wait.
func IsRateLimited(err error) (retryAfter bool, rle *slackgo.RateLimitedError) {
	if errors.As(err, &rle) {
		return true, rle
	}
	return false, nil
}

// IsTransient reports whether err is worth retrying with backoff:
// network hiccups and server-side 5xx responses qualify; auth failures,
// cancellation, and API usage errors do not.
func IsTransient(err error) bool {
	if err == nil || IsAuthError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sce slackgo.StatusCodeError
	if errors.As(err, &sce) {
		return sce.Code >= 500
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
