package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clearbill/claims-intake/internal/core/domain"
	"github.com/clearbill/claims-intake/internal/core/ports"
)

type IngestClaimUseCase struct {
	repo    ports.ClaimRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewIngestClaimUseCase(
	repo ports.ClaimRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestClaimUseCase {
	return &IngestClaimUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

// Upload stores the document, creates the claim row (business status
// processing, AI status pending, zero attempts) and enqueues extraction.
// The caller gets the created claim back without waiting for processing.
// Only PDF content is accepted: the pipeline cannot finish anything else,
// so non-PDF uploads are rejected here instead of dying later as failed
// claims.
func (uc *IngestClaimUseCase) Upload(
	ctx context.Context,
	filename string,
	content io.Reader,
	ownerID string,
) (*domain.Claim, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest claim", errors.New("owner id is required"))
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest claim", errors.New("empty upload"))
	}
	if !isPDF(data) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest claim",
			errors.New("only PDF documents are accepted; JPEG/PNG uploads cannot be processed"))
	}

	now := time.Now().UTC()
	fileKey := buildFileKey(ownerID, filename, now)

	if err := uc.storage.Save(ctx, fileKey, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	claim := &domain.Claim{
		ID:      uuid.NewString(),
		UserID:  ownerID,
		FileKey: fileKey,
		Status:  domain.StatusProcessing,
		ExtractedFields: domain.ExtractedFields{
			DiagnosisCodes: []string{},
			ProcedureCodes: []string{},
		},
		AIProcessing: domain.AIProcessingState{
			Status:   domain.AIPending,
			Attempts: 0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.repo.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("create claim record: %w", err)
	}

	if err := uc.queue.PublishClaimIngested(ctx, claim.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	return claim, nil
}

// buildFileKey produces claims/<owner>/<unix-ms>-<rand><ext>, collision
// resistant and grouped per owner.
func buildFileKey(ownerID, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" {
		ext = ".pdf"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("claims/%s/%d-%s%s", ownerID, now.UnixMilli(), suffix, ext)
}
