package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/clearbill/claims-intake/internal/core/domain"
	"github.com/clearbill/claims-intake/internal/core/ports"
)

const slotWait = 250 * time.Millisecond

// ProcessClaimUseCase is the processing orchestrator: it drives a claim from
// uploaded to completed or failed, owns the attempt bookkeeping and holds the
// per-claim lock for the duration of a run.
type ProcessClaimUseCase struct {
	repo      ports.ClaimRepository
	storage   ports.ObjectStorage
	users     ports.UserDirectory
	extractor ports.TextExtractor
	fields    ports.FieldExtractor
	notifier  ports.Notifier
	queue     ports.MessageQueue

	maxAttempts int
	locks       *claimLocks
	slots       chan struct{}
}

func NewProcessClaimUseCase(
	repo ports.ClaimRepository,
	storage ports.ObjectStorage,
	users ports.UserDirectory,
	extractor ports.TextExtractor,
	fields ports.FieldExtractor,
	notifier ports.Notifier,
	queue ports.MessageQueue,
	maxAttempts int,
	maxInFlight int,
) *ProcessClaimUseCase {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &ProcessClaimUseCase{
		repo:        repo,
		storage:     storage,
		users:       users,
		extractor:   extractor,
		fields:      fields,
		notifier:    notifier,
		queue:       queue,
		maxAttempts: maxAttempts,
		locks:       newClaimLocks(),
		slots:       make(chan struct{}, maxInFlight),
	}
}

// ProcessByID runs one extraction attempt. The processing transition
// (status, attempts, lastAttempt) is persisted before any external call, so
// a crash mid-run is observable as a stuck processing claim rather than a
// silent loss. Failures land on the claim record; the returned error exists
// for the worker's logging and metrics.
func (uc *ProcessClaimUseCase) ProcessByID(ctx context.Context, claimID string) error {
	release, err := uc.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	unlock := uc.locks.acquire(claimID)
	defer unlock()

	claim, err := uc.repo.BeginAttempt(ctx, claimID, uc.maxAttempts)
	if err != nil {
		return fmt.Errorf("begin extraction attempt: %w", err)
	}

	fields, audit, runErr := uc.runPipeline(ctx, claim)
	if runErr != nil {
		if failErr := uc.repo.FailExtraction(ctx, claimID, runErr.Error(), audit); failErr != nil {
			return fmt.Errorf("%w; record failure: %v", runErr, failErr)
		}
		claim.AIProcessing.Status = domain.AIFailed
		claim.AIProcessing.Error = runErr.Error()
		uc.notify(ctx, claim, runErr)
		return runErr
	}

	if err := uc.repo.CompleteExtraction(ctx, claimID, fields, audit); err != nil {
		if failErr := uc.repo.FailExtraction(ctx, claimID, err.Error(), audit); failErr != nil {
			return fmt.Errorf("%w; record failure: %v", err, failErr)
		}
		return fmt.Errorf("persist extraction: %w", err)
	}

	claim.ExtractedFields = fields
	claim.Status = domain.StatusPending
	claim.AIProcessing.Status = domain.AICompleted
	claim.AIProcessing.Error = ""
	uc.notify(ctx, claim, nil)
	return nil
}

// Reprocess is the guarded re-entry. The synchronous read gives the caller a
// typed rejection; the definitive gate stays in BeginAttempt so a racing run
// can never push attempts past the ceiling.
func (uc *ProcessClaimUseCase) Reprocess(ctx context.Context, claimID, userID string) (*domain.Claim, error) {
	var (
		claim *domain.Claim
		err   error
	)
	if userID == "" {
		claim, err = uc.repo.GetByID(ctx, claimID)
	} else {
		claim, err = uc.repo.GetForUser(ctx, claimID, userID)
	}
	if err != nil {
		return nil, err
	}
	if claim.AIProcessing.Status == domain.AIProcessing {
		return nil, domain.WrapError(domain.ErrAlreadyProcessing, "reprocess claim",
			errors.New("an extraction attempt is in flight"))
	}
	if claim.AIProcessing.Attempts >= uc.maxAttempts {
		return nil, domain.WrapError(domain.ErrMaxRetriesExceeded, "reprocess claim",
			fmt.Errorf("attempts=%d max=%d", claim.AIProcessing.Attempts, uc.maxAttempts))
	}

	if err := uc.queue.PublishClaimIngested(ctx, claim.ID); err != nil {
		return nil, fmt.Errorf("enqueue reprocess: %w", err)
	}
	return claim, nil
}

type auditPayload struct {
	Text          string `json:"text,omitempty"`
	ModelResponse string `json:"modelResponse,omitempty"`
}

// runPipeline executes blob read, format check, text extraction, field
// extraction and normalization. The returned audit payload is non-nil as
// soon as any upstream output exists, so raw text survives structuring
// failures.
func (uc *ProcessClaimUseCase) runPipeline(ctx context.Context, claim *domain.Claim) (domain.ExtractedFields, json.RawMessage, error) {
	data, err := uc.readBlob(ctx, claim.FileKey)
	if err != nil {
		return domain.ExtractedFields{}, nil, err
	}

	if !isPDF(data) {
		return domain.ExtractedFields{}, nil, domain.WrapError(domain.ErrUnsupportedFormat, "verify document format",
			errors.New("missing PDF signature"))
	}

	text, err := uc.extractText(ctx, data)
	if err != nil {
		return domain.ExtractedFields{}, nil, err
	}

	extraction, err := uc.fields.Extract(ctx, text)
	if err != nil {
		return domain.ExtractedFields{}, marshalAudit(text, ""), fmt.Errorf("extract fields: %w", err)
	}

	audit := marshalAudit(text, extraction.RawResponse)

	fields, err := NormalizeFields(extraction.Payload)
	if err != nil {
		return domain.ExtractedFields{}, audit, err
	}

	return fields, audit, nil
}

func (uc *ProcessClaimUseCase) readBlob(ctx context.Context, fileKey string) ([]byte, error) {
	reader, err := uc.storage.Open(ctx, fileKey)
	if err != nil {
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read stored document: %w", err)
	}
	return data, nil
}

func (uc *ProcessClaimUseCase) extractText(ctx context.Context, data []byte) (string, error) {
	text, err := uc.extractor.Extract(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrNoTextExtracted, "extract text", errors.New("empty extraction output"))
	}
	return text, nil
}

// notify is fire-and-forget: resolution and delivery problems are logged and
// never escalate into claim state.
func (uc *ProcessClaimUseCase) notify(ctx context.Context, claim *domain.Claim, runErr error) {
	owner, err := uc.users.GetByID(ctx, claim.UserID)
	if err != nil || owner.Email == "" {
		slog.Warn("notification skipped, owner email unresolved", "claim_id", claim.ID, "user_id", claim.UserID, "error", err)
		return
	}

	if runErr != nil {
		if err := uc.notifier.ProcessingFailed(ctx, owner.Email, claim, runErr.Error()); err != nil {
			slog.Warn("failure notification error", "claim_id", claim.ID, "error", err)
		}
		return
	}
	if err := uc.notifier.ProcessingCompleted(ctx, owner.Email, claim); err != nil {
		slog.Warn("completion notification error", "claim_id", claim.ID, "error", err)
	}
}

// acquireSlot bounds concurrent extraction runs. Saturation is surfaced as
// ErrTooManyRequests after a short wait instead of unbounded fan-out.
func (uc *ProcessClaimUseCase) acquireSlot(ctx context.Context) (func(), error) {
	timer := time.NewTimer(slotWait)
	defer timer.Stop()

	select {
	case uc.slots <- struct{}{}:
		return func() { <-uc.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, domain.WrapError(domain.ErrTooManyRequests, "acquire extraction slot",
			errors.New("extraction concurrency limit reached"))
	}
}

func marshalAudit(text, modelResponse string) json.RawMessage {
	raw, err := json.Marshal(auditPayload{Text: text, ModelResponse: modelResponse})
	if err != nil {
		return nil
	}
	return raw
}
