package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
	"github.com/tinywideclouds/go-push-dispatch/internal/trigger"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// Notifier is the trigger entry point exposed over HTTP.
type Notifier interface {
	Notify(ctx context.Context, content trigger.Content)
}

type RecipientAPI struct {
	Store    dispatch.RecipientStore
	Notifier Notifier
	Logger   *slog.Logger
}

func NewRecipientAPI(store dispatch.RecipientStore, notifier Notifier, logger *slog.Logger) *RecipientAPI {
	return &RecipientAPI{
		Store:    store,
		Notifier: notifier,
		Logger:   logger.With("component", "RecipientAPI"),
	}
}

// --- DOOR A: Native (FCM / APNs) ---

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (api *RecipientAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	platform := notification.Platform(strings.ToLower(req.Platform))
	if platform == "" {
		platform = notification.PlatformFCM
	}
	if platform != notification.PlatformFCM && platform != notification.PlatformAPNS {
		response.WriteJSONError(w, http.StatusBadRequest, "platform must be fcm or apns")
		return
	}

	api.register(w, r, notification.Recipient{
		Token:    notification.RecipientToken(req.Token),
		Platform: platform,
		Owner:    owner,
	})
}

// --- DOOR B: Web (VAPID) ---

func (api *RecipientAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.caller(w, r)
	if !ok {
		return
	}

	var sub webpush.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.Logger.Error("RegisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	token, err := web.EncodeSubscription(sub)
	if err != nil {
		api.Logger.Warn("RegisterWeb: Validation failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	api.register(w, r, notification.Recipient{
		Token:    token,
		Platform: notification.PlatformWeb,
		Owner:    owner,
	})
}

type UnregisterRequest struct {
	Token string `json:"token"`
}

// Unregister is idempotent: unknown tokens still answer 204. A token with an
// owner can only be removed by that owner.
func (api *RecipientAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req UnregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	token := notification.RecipientToken(req.Token)
	existing, err := api.Store.Get(r.Context(), token)
	if errors.Is(err, dispatch.ErrRecipientNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		api.Logger.Error("failed to look up recipient", "token", token.Redacted(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister")
		return
	}
	if existing.Owner != nil && (caller == nil || caller.String() != existing.OwnerString()) {
		api.Logger.Warn("Unregister rejected: caller does not own recipient", "token", token.Redacted())
		response.WriteJSONError(w, http.StatusForbidden, "recipient belongs to another user")
		return
	}

	if err := api.Store.Delete(r.Context(), token); err != nil {
		api.Logger.Warn("failed to unregister recipient", "token", token.Redacted(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Manual trigger ---

type NotifyRequest struct {
	EntityID string `json:"entity_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	ImageURL string `json:"image_url,omitempty"`
}

// Notify schedules a content notification and answers 202 before delivery.
func (api *RecipientAPI) Notify(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.caller(w, r); !ok {
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "title and body are required")
		return
	}

	api.Notifier.Notify(r.Context(), trigger.Content{
		EntityID: req.EntityID,
		Title:    req.Title,
		Body:     req.Body,
		ImageURL: req.ImageURL,
	})
	w.WriteHeader(http.StatusAccepted)
}

// --- Helpers ---

// caller returns the authenticated user's URN, or nil when the handle is not a URN.
func (api *RecipientAPI) caller(w http.ResponseWriter, r *http.Request) (*urn.URN, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	owner, err := notification.ParseOwner(userID)
	if err != nil {
		api.Logger.Debug("User handle is not a URN; registering anonymously", "err", err)
		return nil, true
	}
	return owner, true
}

func (api *RecipientAPI) register(w http.ResponseWriter, r *http.Request, recipient notification.Recipient) {
	if err := api.Store.Register(r.Context(), recipient); err != nil {
		api.Logger.Error("failed to register recipient", "platform", recipient.Platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Recipient registered", "platform", recipient.Platform, "token", recipient.Token.Redacted())
	w.WriteHeader(http.StatusNoContent)
}
