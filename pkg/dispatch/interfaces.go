// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"errors"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// ErrRecipientNotFound is returned by RecipientStore.Get for unknown tokens.
var ErrRecipientNotFound = errors.New("recipient not found")

// GatewayClient performs the network call to one push provider.
type GatewayClient interface {
	// Name identifies the gateway in logs and metrics.
	Name() string
	// Platform is the kind of token this gateway accepts.
	Platform() notification.Platform
	// SendMulticast sends one message to all tokens. The outcome's Results are
	// aligned with msg.Tokens. A returned error means the call itself failed.
	SendMulticast(ctx context.Context, msg notification.Multicast) (*notification.BatchOutcome, error)
}

// Sender sends a command to a list of recipients and reduces the provider
// response into a SendResult. It never fails.
type Sender interface {
	Send(ctx context.Context, cmd notification.Command, recipients []notification.RecipientToken) notification.SendResult
}

// Dispatcher schedules a send without blocking and without reporting failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd notification.Command, recipients []notification.RecipientToken)
}

// RecipientStore is the durable mapping of recipient token to metadata.
type RecipientStore interface {
	// Register adds or updates a recipient (upsert on token).
	Register(ctx context.Context, recipient notification.Recipient) error

	// Get returns one recipient, or ErrRecipientNotFound.
	Get(ctx context.Context, token notification.RecipientToken) (*notification.Recipient, error)

	// List returns every registered recipient.
	List(ctx context.Context) ([]notification.Recipient, error)

	// ListByOwner returns the recipients registered by one owner.
	ListByOwner(ctx context.Context, owner urn.URN) ([]notification.Recipient, error)

	// Delete removes a token. Deleting an absent token is not an error.
	Delete(ctx context.Context, token notification.RecipientToken) error
}
