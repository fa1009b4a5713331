package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// CollectionName is the root collection holding one document per token.
const CollectionName = "push_recipients"

// RecipientStore implements dispatch.RecipientStore using Google Cloud Firestore.
type RecipientStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewRecipientStore(client *firestore.Client, logger *slog.Logger) *RecipientStore {
	return &RecipientStore{
		client: client,
		logger: logger.With("component", "FirestoreRecipientStore"),
	}
}

// recipientRecord is the internal DB representation.
type recipientRecord struct {
	Token     string    `firestore:"token"`
	Platform  string    `firestore:"platform"`
	Owner     string    `firestore:"owner"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *RecipientStore) Register(ctx context.Context, r notification.Recipient) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	record := recipientRecord{
		Token:     string(r.Token),
		Platform:  string(r.Platform),
		Owner:     r.OwnerString(),
		UpdatedAt: updated,
	}

	// Hash of the token as Doc ID prevents duplicates and hot-spotting
	if _, err := s.doc(r.Token).Set(ctx, record); err != nil {
		return fmt.Errorf("firestore register failed: %w", err)
	}
	return nil
}

func (s *RecipientStore) Get(ctx context.Context, token notification.RecipientToken) (*notification.Recipient, error) {
	snap, err := s.doc(token).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, dispatch.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get failed: %w", err)
	}

	var record recipientRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("corrupt recipient document %s: %w", snap.Ref.ID, err)
	}
	r := s.fromRecord(snap.Ref.ID, record)
	return &r, nil
}

func (s *RecipientStore) List(ctx context.Context) ([]notification.Recipient, error) {
	return s.collect(s.client.Collection(CollectionName).Documents(ctx))
}

func (s *RecipientStore) ListByOwner(ctx context.Context, owner urn.URN) ([]notification.Recipient, error) {
	q := s.client.Collection(CollectionName).Where("owner", "==", owner.String())
	return s.collect(q.Documents(ctx))
}

// Delete is idempotent: Firestore deletes of missing documents succeed.
func (s *RecipientStore) Delete(ctx context.Context, token notification.RecipientToken) error {
	_, err := s.doc(token).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore delete failed: %w", err)
	}
	return nil
}

func (s *RecipientStore) collect(iter *firestore.DocumentIterator) ([]notification.Recipient, error) {
	defer iter.Stop()

	recipients := make([]notification.Recipient, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record recipientRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping corrupt recipient document", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		recipients = append(recipients, s.fromRecord(doc.Ref.ID, record))
	}
	return recipients, nil
}

func (s *RecipientStore) fromRecord(docID string, record recipientRecord) notification.Recipient {
	owner, err := notification.ParseOwner(record.Owner)
	if err != nil {
		s.logger.Warn("Dropping unparseable owner", "doc_id", docID, "err", err)
	}
	return notification.Recipient{
		Token:     notification.RecipientToken(record.Token),
		Platform:  notification.Platform(record.Platform),
		Owner:     owner,
		UpdatedAt: record.UpdatedAt,
	}
}

func (s *RecipientStore) doc(token notification.RecipientToken) *firestore.DocumentRef {
	return s.client.Collection(CollectionName).Doc(hashToken(token))
}

func hashToken(t notification.RecipientToken) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
