package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clearbill/claims-intake/internal/core/domain"
	"github.com/clearbill/claims-intake/internal/core/ports"
)

// ClaimAdminUseCase covers reviewer-side mutations: business-status
// transitions and note edits.
type ClaimAdminUseCase struct {
	repo     ports.ClaimRepository
	users    ports.UserDirectory
	notifier ports.Notifier
}

func NewClaimAdminUseCase(
	repo ports.ClaimRepository,
	users ports.UserDirectory,
	notifier ports.Notifier,
) *ClaimAdminUseCase {
	return &ClaimAdminUseCase{
		repo:     repo,
		users:    users,
		notifier: notifier,
	}
}

// UpdateStatus sets the business-review status, records the reviewer and
// fires a best-effort notification to the claim owner.
func (uc *ClaimAdminUseCase) UpdateStatus(ctx context.Context, claimID, reviewerID string, status domain.ClaimStatus, notes string) (*domain.Claim, error) {
	if !domain.ValidClaimStatus(status) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update claim status",
			fmt.Errorf("unknown status %q", status))
	}

	claim, err := uc.repo.UpdateReview(ctx, claimID, reviewerID, status, notes)
	if err != nil {
		return nil, err
	}

	if owner, err := uc.users.GetByID(ctx, claim.UserID); err == nil && owner.Email != "" {
		if err := uc.notifier.StatusUpdated(ctx, owner.Email, claim); err != nil {
			slog.Warn("status notification error", "claim_id", claim.ID, "error", err)
		}
	}

	return claim, nil
}

func (uc *ClaimAdminUseCase) UpdateNotes(ctx context.Context, claimID, userID, notes string) (*domain.Claim, error) {
	return uc.repo.UpdateNotes(ctx, claimID, userID, notes)
}
