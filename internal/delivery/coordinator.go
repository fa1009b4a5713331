package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-dispatch/internal/observability/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const pruneTimeout = 5 * time.Second

// RecipientPruner is the part of the recipient store the coordinator writes to.
type RecipientPruner interface {
	Delete(ctx context.Context, token notification.RecipientToken) error
}

// Report summarizes one completed dispatch.
type Report struct {
	DispatchID    string
	Gateway       string
	Result        notification.SendResult
	Pruned        int
	PruneFailures int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCompletionHook registers fn to receive a Report after every dispatch.
// fn runs on the worker goroutine.
func WithCompletionHook(fn func(Report)) Option {
	return func(c *Coordinator) {
		c.onComplete = fn
	}
}

// Coordinator is the fire-and-forget dispatch.Dispatcher. Sends run on a
// bounded worker pool; dead recipients are pruned once the send completes.
type Coordinator struct {
	name       string
	sender     dispatch.Sender
	pruner     RecipientPruner
	pool       *WorkerPool
	logger     *slog.Logger
	onComplete func(Report)
}

// NewCoordinator creates a Coordinator. name labels logs and metrics, usually
// the gateway name.
func NewCoordinator(
	name string,
	sender dispatch.Sender,
	pruner RecipientPruner,
	pool *WorkerPool,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		name:   name,
		sender: sender,
		pruner: pruner,
		pool:   pool,
		logger: logger.With("component", "DispatchCoordinator", "gateway", name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch schedules the send and returns immediately. Nothing is reported to
// the caller: a saturated pool drops the dispatch, a failed send is logged.
func (c *Coordinator) Dispatch(ctx context.Context, cmd notification.Command, recipients []notification.RecipientToken) {
	if len(recipients) == 0 {
		c.logger.Debug("No recipients; nothing to dispatch")
		return
	}

	// The caller keeps ownership of its slice and map.
	tokens := slices.Clone(recipients)
	cmd.Data = maps.Clone(cmd.Data)

	dispatchID := uuid.NewString()
	bg := context.WithoutCancel(ctx)

	accepted := c.pool.Submit(func() {
		c.run(bg, dispatchID, cmd, tokens)
	})
	if !accepted {
		metrics.DispatchesDropped.WithLabelValues(c.name).Inc()
		c.logger.Warn("Dispatch dropped: worker pool saturated or stopped",
			"dispatch_id", dispatchID, "recipients", len(tokens))
		return
	}
	metrics.DispatchesAccepted.WithLabelValues(c.name).Inc()
}

func (c *Coordinator) run(ctx context.Context, dispatchID string, cmd notification.Command, tokens []notification.RecipientToken) {
	result := c.sender.Send(ctx, cmd, tokens)
	pruned, failed := c.prune(ctx, dispatchID, result.InvalidTokens)

	c.logger.Info("Dispatch complete",
		"dispatch_id", dispatchID,
		"recipients", len(tokens),
		"success_count", result.SuccessCount,
		"failure_count", result.FailureCount,
		"pruned", pruned,
		"prune_failures", failed,
	)

	if c.onComplete != nil {
		c.onComplete(Report{
			DispatchID:    dispatchID,
			Gateway:       c.name,
			Result:        result,
			Pruned:        pruned,
			PruneFailures: failed,
		})
	}
}

// prune deletes every invalid token independently; one failure never stops
// the rest.
func (c *Coordinator) prune(ctx context.Context, dispatchID string, invalid []notification.RecipientToken) (pruned, failed int) {
	for _, token := range invalid {
		if err := c.deleteOne(ctx, token); err != nil {
			failed++
			metrics.RecordPrune(c.name, false)
			c.logger.Warn("Failed to prune invalid recipient",
				"dispatch_id", dispatchID, "token", token.Redacted(), "err", err)
			continue
		}
		pruned++
		metrics.RecordPrune(c.name, true)
	}
	return pruned, failed
}

func (c *Coordinator) deleteOne(ctx context.Context, token notification.RecipientToken) (err error) {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recipient store panicked during delete: %v", r)
		}
	}()
	return c.pruner.Delete(ctx, token)
}
