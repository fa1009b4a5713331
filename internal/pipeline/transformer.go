// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-dispatch/internal/trigger"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// ContentPublished is the wire form of a "new content" event.
type ContentPublished struct {
	EntityID string `json:"entity_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	ImageURL string `json:"image_url,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

var errMissingText = errors.New("title and body are required")

// ContentPublishedTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a trigger.Content.
// Invalid events are skipped so the StreamingService can handle the Nack/DLQ logic.
func ContentPublishedTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*trigger.Content, bool, error) {
	var event ContentPublished
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal content event from message %s: %w", msg.ID, err)
	}

	if strings.TrimSpace(event.Title) == "" || strings.TrimSpace(event.Body) == "" {
		return nil, true, fmt.Errorf("invalid content event in message %s: %w", msg.ID, errMissingText)
	}

	owner, err := notification.ParseOwner(event.Owner)
	if err != nil {
		return nil, true, fmt.Errorf("invalid owner urn in message %s: %w", msg.ID, err)
	}

	return &trigger.Content{
		EntityID: event.EntityID,
		Title:    event.Title,
		Body:     event.Body,
		ImageURL: event.ImageURL,
		Owner:    owner,
	}, false, nil
}
