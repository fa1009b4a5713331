// Package trigger turns "something happened to entity X" into dispatches.
package trigger

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// Resolver turns a logical audience into concrete recipients.
// An empty result is not an error.
type Resolver interface {
	Resolve(ctx context.Context) ([]notification.Recipient, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) ([]notification.Recipient, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]notification.Recipient, error) {
	return f(ctx)
}

// AllRecipients resolves every registered recipient.
func AllRecipients(store dispatch.RecipientStore) Resolver {
	return ResolverFunc(store.List)
}

// OwnedBy resolves the recipients registered by owner.
func OwnedBy(store dispatch.RecipientStore, owner urn.URN) Resolver {
	return ResolverFunc(func(ctx context.Context) ([]notification.Recipient, error) {
		return store.ListByOwner(ctx, owner)
	})
}

// GroupByPlatform splits recipients into per-platform token lists, keeping
// first-seen order and dropping duplicate tokens.
func GroupByPlatform(recipients []notification.Recipient) map[notification.Platform][]notification.RecipientToken {
	groups := make(map[notification.Platform][]notification.RecipientToken)
	seen := make(map[notification.RecipientToken]struct{}, len(recipients))
	for _, r := range recipients {
		if _, dup := seen[r.Token]; dup || r.Token == "" {
			continue
		}
		seen[r.Token] = struct{}{}
		groups[r.Platform] = append(groups[r.Platform], r.Token)
	}
	return groups
}
