package ports

import (
	"context"
	"encoding/json"
	"io"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

// ClaimRepository persists claim state. It is the only writer of claim rows;
// all status/attempt mutations go through it.
type ClaimRepository interface {
	Create(ctx context.Context, claim *domain.Claim) error
	GetByID(ctx context.Context, id string) (*domain.Claim, error)
	GetForUser(ctx context.Context, id, userID string) (*domain.Claim, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Claim, error)
	ListAll(ctx context.Context) ([]domain.Claim, error)

	// BeginAttempt atomically moves the claim into ai_status=processing,
	// increments the attempt counter and stamps the attempt time, but only
	// while the claim is not already processing and the counter is below
	// maxAttempts. It returns the claim as of after the transition, or
	// ErrClaimNotFound / ErrAlreadyProcessing / ErrMaxRetriesExceeded.
	BeginAttempt(ctx context.Context, id string, maxAttempts int) (*domain.Claim, error)

	// CompleteExtraction writes the normalized fields and the audit payload,
	// moves the business status to pending and the AI status to completed,
	// and clears any previous extraction error.
	CompleteExtraction(ctx context.Context, id string, fields domain.ExtractedFields, raw json.RawMessage) error

	// FailExtraction records the failure message. A non-nil raw payload
	// replaces the stored audit payload so extracted text survives
	// structuring failures; nil leaves the previous payload untouched.
	FailExtraction(ctx context.Context, id string, message string, raw json.RawMessage) error

	UpdateReview(ctx context.Context, id, reviewerID string, status domain.ClaimStatus, notes string) (*domain.Claim, error)
	UpdateNotes(ctx context.Context, id, userID, notes string) (*domain.Claim, error)
}

// UserDirectory resolves claim owners, mainly for notification addressing.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// ObjectStorage stores uploaded claim documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes claim processing events.
type MessageQueue interface {
	PublishClaimIngested(ctx context.Context, claimID string) error
	SubscribeClaimIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor turns stored document bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// FieldExtractor structures plain claim text via the generative model.
type FieldExtractor interface {
	Extract(ctx context.Context, text string) (domain.FieldExtraction, error)
}

// Notifier is a best-effort side channel. Callers never let its errors
// affect claim state.
type Notifier interface {
	ProcessingCompleted(ctx context.Context, email string, claim *domain.Claim) error
	ProcessingFailed(ctx context.Context, email string, claim *domain.Claim, reason string) error
	StatusUpdated(ctx context.Context, email string, claim *domain.Claim) error
}
