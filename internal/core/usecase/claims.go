package usecase

import (
	"context"
	"io"

	"github.com/clearbill/claims-intake/internal/core/domain"
	"github.com/clearbill/claims-intake/internal/core/ports"
)

// ClaimQueryUseCase is the owner-scoped read side. An empty userID means
// the caller is a reviewer and reads are unscoped.
type ClaimQueryUseCase struct {
	repo    ports.ClaimRepository
	storage ports.ObjectStorage
}

func NewClaimQueryUseCase(repo ports.ClaimRepository, storage ports.ObjectStorage) *ClaimQueryUseCase {
	return &ClaimQueryUseCase{repo: repo, storage: storage}
}

// Get returns the claim detail with FileURL filled in, so clients can fetch
// the document they uploaded without knowing the storage layout.
func (uc *ClaimQueryUseCase) Get(ctx context.Context, claimID, userID string) (*domain.Claim, error) {
	claim, err := uc.getScoped(ctx, claimID, userID)
	if err != nil {
		return nil, err
	}
	claim.FileURL = claimFileURL(claim.ID)
	return claim, nil
}

func (uc *ClaimQueryUseCase) List(ctx context.Context, userID string) ([]domain.Claim, error) {
	return uc.repo.ListForUser(ctx, userID)
}

func (uc *ClaimQueryUseCase) ListAll(ctx context.Context) ([]domain.Claim, error) {
	return uc.repo.ListAll(ctx)
}

// GetStatus is a pure read of both state machines, no side effects.
func (uc *ClaimQueryUseCase) GetStatus(ctx context.Context, claimID, userID string) (*domain.ProcessingStatus, error) {
	claim, err := uc.getScoped(ctx, claimID, userID)
	if err != nil {
		return nil, err
	}
	return &domain.ProcessingStatus{
		ClaimStatus:        claim.Status,
		AIProcessingStatus: claim.AIProcessing,
	}, nil
}

// OpenFile resolves the claim under the caller's scope and streams the
// stored document. Foreign claims surface as not-found, same as Get.
func (uc *ClaimQueryUseCase) OpenFile(ctx context.Context, claimID, userID string) (io.ReadCloser, string, error) {
	claim, err := uc.getScoped(ctx, claimID, userID)
	if err != nil {
		return nil, "", err
	}
	content, err := uc.storage.Open(ctx, claim.FileKey)
	if err != nil {
		return nil, "", err
	}
	return content, claim.FileKey, nil
}

func (uc *ClaimQueryUseCase) getScoped(ctx context.Context, claimID, userID string) (*domain.Claim, error) {
	if userID == "" {
		return uc.repo.GetByID(ctx, claimID)
	}
	return uc.repo.GetForUser(ctx, claimID, userID)
}

func claimFileURL(claimID string) string {
	return "/api/claims/" + claimID + "/download"
}
