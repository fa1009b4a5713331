package trigger

import (
	"context"
	"log/slog"
	"strings"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const (
	DefaultEntityKey      = "entity_id"
	DefaultDeepLinkPrefix = "/content/"
	DeepLinkKey           = "deep_link"
)

// Config controls how content events are turned into notification data.
type Config struct {
	// EntityKey is the data key carrying the entity id (e.g. "meme_id").
	EntityKey string
	// DeepLinkPrefix is prepended to the entity id to form the deep link.
	DeepLinkPrefix string
}

// Content describes a newly published entity.
type Content struct {
	EntityID string
	Title    string
	Body     string
	ImageURL string
	// Owner narrows the audience to recipients registered by Owner.
	Owner *urn.URN
}

// ContentNotifier resolves recipients for new content and hands one command
// per platform to that platform's dispatcher. It never returns an error.
type ContentNotifier struct {
	store          dispatch.RecipientStore
	dispatchers    map[notification.Platform]dispatch.Dispatcher
	entityKey      string
	deepLinkPrefix string
	logger         *slog.Logger
}

func NewContentNotifier(
	store dispatch.RecipientStore,
	dispatchers map[notification.Platform]dispatch.Dispatcher,
	cfg Config,
	logger *slog.Logger,
) *ContentNotifier {
	if cfg.EntityKey == "" {
		cfg.EntityKey = DefaultEntityKey
	}
	if cfg.DeepLinkPrefix == "" {
		cfg.DeepLinkPrefix = DefaultDeepLinkPrefix
	}
	return &ContentNotifier{
		store:          store,
		dispatchers:    dispatchers,
		entityKey:      cfg.EntityKey,
		deepLinkPrefix: cfg.DeepLinkPrefix,
		logger:         logger.With("component", "ContentNotifier"),
	}
}

// NotifyNewContent notifies every registered recipient about entityID.
func (n *ContentNotifier) NotifyNewContent(ctx context.Context, entityID, title, body string) {
	n.Notify(ctx, Content{EntityID: entityID, Title: title, Body: body})
}

// NotifyNewContentWithImage is NotifyNewContent with a rich-notification image.
func (n *ContentNotifier) NotifyNewContentWithImage(ctx context.Context, entityID, title, body, imageURL string) {
	n.Notify(ctx, Content{EntityID: entityID, Title: title, Body: body, ImageURL: imageURL})
}

// Notify resolves the audience for c and dispatches. Failures are logged.
func (n *ContentNotifier) Notify(ctx context.Context, c Content) {
	log := n.logger.With("entity_id", c.EntityID)

	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Body) == "" {
		log.Warn("Refusing to notify without title and body")
		return
	}

	resolver := AllRecipients(n.store)
	if c.Owner != nil {
		resolver = OwnedBy(n.store, *c.Owner)
	}
	recipients, err := resolver.Resolve(ctx)
	if err != nil {
		log.Error("Recipient resolution failed", "err", err)
		return
	}
	if len(recipients) == 0 {
		log.Debug("No recipients registered")
		return
	}

	cmd := notification.Command{
		Title:    c.Title,
		Body:     c.Body,
		ImageURL: c.ImageURL,
		Data:     n.dataFor(c.EntityID),
	}

	for platform, tokens := range GroupByPlatform(recipients) {
		d, ok := n.dispatchers[platform]
		if !ok {
			log.Warn("No gateway configured for platform; skipping", "platform", platform, "count", len(tokens))
			continue
		}
		// Each dispatcher clones what it keeps, the map can be shared.
		d.Dispatch(ctx, cmd, tokens)
	}
	log.Info("Content notification scheduled", "recipients", len(recipients))
}

func (n *ContentNotifier) dataFor(entityID string) map[string]string {
	data := map[string]string{n.entityKey: entityID}
	if entityID != "" {
		data[DeepLinkKey] = n.deepLinkPrefix + entityID
	}
	return data
}
