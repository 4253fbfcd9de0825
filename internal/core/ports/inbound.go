package ports

import (
	"context"
	"io"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

// ClaimIngestor is the inbound contract for claim upload orchestration.
type ClaimIngestor interface {
	Upload(ctx context.Context, filename string, content io.Reader, ownerID string) (*domain.Claim, error)
}

// ClaimProcessor drives a claim through the extraction pipeline.
type ClaimProcessor interface {
	ProcessByID(ctx context.Context, claimID string) error
	Reprocess(ctx context.Context, claimID, userID string) (*domain.Claim, error)
}

// ClaimReader is the inbound read model for claims and processing state.
type ClaimReader interface {
	Get(ctx context.Context, claimID, userID string) (*domain.Claim, error)
	List(ctx context.Context, userID string) ([]domain.Claim, error)
	ListAll(ctx context.Context) ([]domain.Claim, error)
	GetStatus(ctx context.Context, claimID, userID string) (*domain.ProcessingStatus, error)

	// OpenFile streams the stored claim document, applying the same owner
	// scoping as Get. The string result is the storage key, for naming the
	// download.
	OpenFile(ctx context.Context, claimID, userID string) (io.ReadCloser, string, error)
}

// ClaimAdministrator covers reviewer-side mutations.
type ClaimAdministrator interface {
	UpdateStatus(ctx context.Context, claimID, reviewerID string, status domain.ClaimStatus, notes string) (*domain.Claim, error)
	UpdateNotes(ctx context.Context, claimID, userID, notes string) (*domain.Claim, error)
}
