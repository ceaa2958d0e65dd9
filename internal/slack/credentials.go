// Package slack provides the rate-limited, paginated gateway to the Slack
// API, the TTL-backed entity cache, and credential handling.
package slack

import (
	"errors"
	"strings"
)

// Flavor identifies the kind of access token in use. The available call
// set depends on it: search requires a user token, Socket Mode requires
// an additional app-level token.
type Flavor string

const (
	FlavorBot     Flavor = "bot"
	FlavorUser    Flavor = "user"
	FlavorUnknown Flavor = "unknown"
)

// Credentials holds the tokens and secrets supplied by configuration.
// AppToken is only needed for the socket transport; SigningSecret only
// for the webhook transport.
type Credentials struct {
	Token         string // xoxb-... or xoxp-... access token
	AppToken      string // xapp-... app-level token
	SigningSecret string // webhook request signing secret
}

var errMissingToken = errors.New("slack: access token is required")

// Validate checks that the minimum credential surface is present.
func (c *Credentials) Validate() error {
	if c.Token == "" {
		return errMissingToken
	}
	return nil
}

// Flavor derives the token flavor from its prefix.
func (c *Credentials) Flavor() Flavor {
	switch {
	case strings.HasPrefix(c.Token, "xoxb-"):
		return FlavorBot
	case strings.HasPrefix(c.Token, "xoxp-"):
		return FlavorUser
	}
	return FlavorUnknown
}

// CanSearch reports whether the search call family is available.
// Bot-flavored tokens cannot call search endpoints.
func (c *Credentials) CanSearch() bool {
	return c.Flavor() == FlavorUser
}

// Redacted returns the token with all but the first and last four
// characters masked, for logging.
func Redacted(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
