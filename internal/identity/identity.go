// Package identity validates the caller-supplied user and session ids.
package identity

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	DefaultUserID    = "anonymous_reporter"
	DefaultSessionID = "default_anomaly_session"
)

// ErrInvalidID is returned for ids outside the allowed alphabet or length.
var ErrInvalidID = errors.New("invalid identifier")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Resolve trims the ids, applies defaults to blank values and validates the result.
func Resolve(userID, sessionID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = DefaultUserID
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	if !idPattern.MatchString(userID) {
		return "", "", fmt.Errorf("%w: user_id %q", ErrInvalidID, userID)
	}
	if !idPattern.MatchString(sessionID) {
		return "", "", fmt.Errorf("%w: session_id %q", ErrInvalidID, sessionID)
	}
	return userID, sessionID, nil
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
