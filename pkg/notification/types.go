// Package notification contains the public domain values exchanged between the
// trigger, the dispatch core and the push gateways.
package notification

import (
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Platform identifies the push gateway a recipient token belongs to.
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformWeb  Platform = "web"
	PlatformAPNS Platform = "apns"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformFCM, PlatformWeb, PlatformAPNS:
		return true
	}
	return false
}

// RecipientToken is an opaque delivery target registered with a push provider.
type RecipientToken string

// Redacted returns a log-safe rendering of the token.
func (t RecipientToken) Redacted() string {
	const keep = 8
	if len(t) <= keep {
		return "***"
	}
	return string(t[:keep]) + "***"
}

// Recipient is the stored metadata for one token.
type Recipient struct {
	Token     RecipientToken
	Platform  Platform
	Owner     *urn.URN // nil when registered anonymously
	UpdatedAt time.Time
}

// Command is the notification a use case wants delivered. Title and Body are
// validated by the caller.
type Command struct {
	Title    string
	Body     string
	ImageURL string
	Data     map[string]string
}

// SendResult is the normalized outcome of one multicast send.
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []RecipientToken
}

// TransportFailure is the result of a send that never reached the provider:
// every recipient failed and none is known to be invalid.
func TransportFailure(recipients int) SendResult {
	return SendResult{SuccessCount: 0, FailureCount: recipients}
}

// Multicast is the provider-neutral payload handed to a gateway.
type Multicast struct {
	Tokens   []RecipientToken
	Title    string
	Body     string
	ImageURL string
	Data     map[string]string
}

// RecipientOutcome is the gateway's result for one token. FailureCode is a
// providererr code; zero means the provider gave no code.
type RecipientOutcome struct {
	Successful  bool
	FailureCode int
}

// BatchOutcome is a gateway's response to a multicast. Results[i] belongs to
// the i-th submitted token.
type BatchOutcome struct {
	SuccessCount int
	FailureCount int
	Results      []RecipientOutcome
}

// OwnerString returns the owner URN as stored, or "" for anonymous recipients.
func (r Recipient) OwnerString() string {
	if r.Owner == nil {
		return ""
	}
	return r.Owner.String()
}

// ParseOwner is the inverse of OwnerString.
func ParseOwner(s string) (*urn.URN, error) {
	if s == "" {
		return nil, nil
	}
	owner, err := urn.Parse(s)
	if err != nil {
		return nil, err
	}
	return &owner, nil
}
