package notify

import (
	"context"
	"log/slog"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

// LogNotifier stands in for a real mail integration: it records every
// notification in the structured log and never fails. Swapping in an SMTP
// or provider-backed notifier only requires implementing ports.Notifier.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ProcessingCompleted(_ context.Context, email string, claim *domain.Claim) error {
	n.logger.Info("notify: claim processing completed",
		"email", email,
		"claim_id", claim.ID,
		"claim_status", string(claim.Status),
	)
	return nil
}

func (n *LogNotifier) ProcessingFailed(_ context.Context, email string, claim *domain.Claim, reason string) error {
	n.logger.Info("notify: claim processing failed",
		"email", email,
		"claim_id", claim.ID,
		"attempts", claim.AIProcessing.Attempts,
		"reason", reason,
	)
	return nil
}

func (n *LogNotifier) StatusUpdated(_ context.Context, email string, claim *domain.Claim) error {
	n.logger.Info("notify: claim status updated",
		"email", email,
		"claim_id", claim.ID,
		"claim_status", string(claim.Status),
	)
	return nil
}
