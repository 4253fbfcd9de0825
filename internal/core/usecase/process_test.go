package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

type completeCall struct {
	id     string
	fields domain.ExtractedFields
	raw    json.RawMessage
}

type failCall struct {
	id      string
	message string
	raw     json.RawMessage
}

type claimRepoFake struct {
	claim *domain.Claim

	getErr      error
	beginErr    error
	completeErr error
	failErr     error
	createErr   error

	created   *domain.Claim
	completes []completeCall
	failures  []failCall
}

func (f *claimRepoFake) Create(_ context.Context, claim *domain.Claim) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = claim
	return nil
}

func (f *claimRepoFake) GetByID(context.Context, string) (*domain.Claim, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.claim == nil {
		return nil, domain.WrapError(domain.ErrClaimNotFound, "load claim", errors.New("no claim"))
	}
	copyClaim := *f.claim
	return &copyClaim, nil
}

func (f *claimRepoFake) GetForUser(ctx context.Context, id, userID string) (*domain.Claim, error) {
	claim, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim.UserID != userID {
		return nil, domain.WrapError(domain.ErrClaimNotFound, "load claim", errors.New("owner mismatch"))
	}
	return claim, nil
}

func (f *claimRepoFake) ListForUser(ctx context.Context, userID string) ([]domain.Claim, error) {
	if f.claim == nil || f.claim.UserID != userID {
		return []domain.Claim{}, nil
	}
	return []domain.Claim{*f.claim}, nil
}

func (f *claimRepoFake) ListAll(context.Context) ([]domain.Claim, error) {
	if f.claim == nil {
		return []domain.Claim{}, nil
	}
	return []domain.Claim{*f.claim}, nil
}

func (f *claimRepoFake) BeginAttempt(_ context.Context, id string, maxAttempts int) (*domain.Claim, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	if f.claim == nil {
		return nil, domain.WrapError(domain.ErrClaimNotFound, "begin attempt", errors.New("no claim"))
	}
	if f.claim.AIProcessing.Status == domain.AIProcessing {
		return nil, domain.WrapError(domain.ErrAlreadyProcessing, "begin attempt", errors.New("in flight"))
	}
	if f.claim.AIProcessing.Attempts >= maxAttempts {
		return nil, domain.WrapError(domain.ErrMaxRetriesExceeded, "begin attempt",
			fmt.Errorf("attempts=%d max=%d", f.claim.AIProcessing.Attempts, maxAttempts))
	}
	now := time.Now().UTC()
	f.claim.AIProcessing.Status = domain.AIProcessing
	f.claim.AIProcessing.Attempts++
	f.claim.AIProcessing.LastAttempt = &now
	copyClaim := *f.claim
	_ = id
	return &copyClaim, nil
}

func (f *claimRepoFake) CompleteExtraction(_ context.Context, id string, fields domain.ExtractedFields, raw json.RawMessage) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completes = append(f.completes, completeCall{id: id, fields: fields, raw: raw})
	f.claim.AIProcessing.Status = domain.AICompleted
	f.claim.Status = domain.StatusPending
	return nil
}

func (f *claimRepoFake) FailExtraction(_ context.Context, id string, message string, raw json.RawMessage) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.failures = append(f.failures, failCall{id: id, message: message, raw: raw})
	f.claim.AIProcessing.Status = domain.AIFailed
	f.claim.AIProcessing.Error = message
	return nil
}

func (f *claimRepoFake) UpdateReview(_ context.Context, id, reviewerID string, status domain.ClaimStatus, notes string) (*domain.Claim, error) {
	f.claim.Status = status
	f.claim.ProcessedBy = reviewerID
	if notes != "" {
		f.claim.Notes = notes
	}
	copyClaim := *f.claim
	_ = id
	return &copyClaim, nil
}

func (f *claimRepoFake) UpdateNotes(_ context.Context, id, userID, notes string) (*domain.Claim, error) {
	if f.claim == nil || f.claim.UserID != userID {
		return nil, domain.WrapError(domain.ErrClaimNotFound, "update notes", errors.New("owner mismatch"))
	}
	f.claim.Notes = notes
	copyClaim := *f.claim
	_ = id
	return &copyClaim, nil
}

type storageFake struct {
	saved   map[string][]byte
	openErr error
	saveErr error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[key] = content
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	content, ok := f.saved[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

type usersFake struct {
	user *domain.User
	err  error
}

func (f *usersFake) GetByID(context.Context, string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	copyUser := *f.user
	return &copyUser, nil
}

type textExtractorFake struct {
	text string
	err  error
}

func (f *textExtractorFake) Extract(context.Context, []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fieldExtractorFake struct {
	extraction domain.FieldExtraction
	err        error
}

func (f *fieldExtractorFake) Extract(context.Context, string) (domain.FieldExtraction, error) {
	if f.err != nil {
		return domain.FieldExtraction{}, f.err
	}
	return f.extraction, nil
}

type notifierFake struct {
	completed []string
	failed    []string
	updated   []string
	err       error
}

func (f *notifierFake) ProcessingCompleted(_ context.Context, email string, _ *domain.Claim) error {
	f.completed = append(f.completed, email)
	return f.err
}

func (f *notifierFake) ProcessingFailed(_ context.Context, email string, _ *domain.Claim, _ string) error {
	f.failed = append(f.failed, email)
	return f.err
}

func (f *notifierFake) StatusUpdated(_ context.Context, email string, _ *domain.Claim) error {
	f.updated = append(f.updated, email)
	return f.err
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishClaimIngested(_ context.Context, claimID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, claimID)
	return nil
}

func (f *queueFake) SubscribeClaimIngested(context.Context, func(context.Context, string) error) error {
	return nil
}

func pdfBytes() []byte {
	return []byte("%PDF-1.4 fake claim document body")
}

func pendingClaim(fileKey string) *domain.Claim {
	return &domain.Claim{
		ID:      "claim-1",
		UserID:  "user-1",
		FileKey: fileKey,
		Status:  domain.StatusProcessing,
		AIProcessing: domain.AIProcessingState{
			Status: domain.AIPending,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func newProcessFixture(repo *claimRepoFake, storage *storageFake, text *textExtractorFake, fields *fieldExtractorFake, notifier *notifierFake) *ProcessClaimUseCase {
	return NewProcessClaimUseCase(
		repo,
		storage,
		&usersFake{user: &domain.User{ID: "user-1", Email: "owner@example.com"}},
		text,
		fields,
		notifier,
		&queueFake{},
		3,
		2,
	)
}

func TestProcessByIDSuccess(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	notifier := &notifierFake{}
	payload := `{"patientName":"Jane Roe","providerName":"Acme Clinic","dateOfService":"2024-03-05","amount":150.5,"claimType":"dental","diagnosisCodes":["A10"],"procedureCodes":["99213"]}`
	uc := newProcessFixture(repo, storage,
		&textExtractorFake{text: "CLAIM FORM Jane Roe"},
		&fieldExtractorFake{extraction: domain.FieldExtraction{
			Payload:     json.RawMessage(payload),
			RawResponse: "```json\n" + payload + "\n```",
		}},
		notifier,
	)

	if err := uc.ProcessByID(context.Background(), "claim-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}

	if len(repo.completes) != 1 {
		t.Fatalf("expected 1 complete call, got %d", len(repo.completes))
	}
	got := repo.completes[0]
	if got.fields.PatientName != "Jane Roe" || got.fields.Amount != 150.5 {
		t.Fatalf("unexpected normalized fields: %+v", got.fields)
	}
	if got.fields.ClaimType != domain.ClaimTypeDental {
		t.Fatalf("expected dental claim type, got %s", got.fields.ClaimType)
	}
	if !strings.Contains(string(got.raw), "CLAIM FORM Jane Roe") {
		t.Fatalf("audit payload missing source text: %s", got.raw)
	}
	if repo.claim.AIProcessing.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", repo.claim.AIProcessing.Attempts)
	}
	if len(notifier.completed) != 1 || notifier.completed[0] != "owner@example.com" {
		t.Fatalf("expected completion notification to owner, got %v", notifier.completed)
	}
	if len(repo.failures) != 0 {
		t.Fatalf("unexpected failure calls: %+v", repo.failures)
	}
}

func TestProcessByIDRejectsNonPDFBlob(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": []byte("not a pdf at all")}}
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	notifier := &notifierFake{}
	uc := newProcessFixture(repo, storage, &textExtractorFake{text: "ignored"}, &fieldExtractorFake{}, notifier)

	err := uc.ProcessByID(context.Background(), "claim-1")
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
	if len(repo.failures) != 1 {
		t.Fatalf("expected recorded failure, got %d", len(repo.failures))
	}
	if repo.claim.AIProcessing.Attempts != 1 {
		t.Fatalf("failed attempt must still count, got %d attempts", repo.claim.AIProcessing.Attempts)
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("expected failure notification, got %v", notifier.failed)
	}
}

func TestProcessByIDFailsOnEmptyText(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	uc := newProcessFixture(repo, storage, &textExtractorFake{text: "   \n\t"}, &fieldExtractorFake{}, &notifierFake{})

	err := uc.ProcessByID(context.Background(), "claim-1")
	if !domain.IsKind(err, domain.ErrNoTextExtracted) {
		t.Fatalf("expected no-text error, got %v", err)
	}
	if len(repo.failures) != 1 {
		t.Fatalf("expected recorded failure, got %d", len(repo.failures))
	}
}

func TestProcessByIDKeepsTextWhenModelFails(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	uc := newProcessFixture(repo, storage,
		&textExtractorFake{text: "some claim text"},
		&fieldExtractorFake{err: errors.New("model unavailable")},
		&notifierFake{},
	)

	err := uc.ProcessByID(context.Background(), "claim-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.failures) != 1 {
		t.Fatalf("expected recorded failure, got %d", len(repo.failures))
	}
	if !strings.Contains(string(repo.failures[0].raw), "some claim text") {
		t.Fatalf("audit payload must keep extracted text, got %s", repo.failures[0].raw)
	}
}

func TestProcessByIDKeepsAuditWhenNormalizationFails(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	uc := newProcessFixture(repo, storage,
		&textExtractorFake{text: "some claim text"},
		&fieldExtractorFake{extraction: domain.FieldExtraction{
			Payload:     json.RawMessage(`{"dateOfService":"last Tuesday"}`),
			RawResponse: `{"dateOfService":"last Tuesday"}`,
		}},
		&notifierFake{},
	)

	err := uc.ProcessByID(context.Background(), "claim-1")
	if !domain.IsKind(err, domain.ErrExtractionInvalid) {
		t.Fatalf("expected extraction-invalid error, got %v", err)
	}
	if len(repo.failures) != 1 {
		t.Fatalf("expected recorded failure, got %d", len(repo.failures))
	}
	raw := string(repo.failures[0].raw)
	if !strings.Contains(raw, "some claim text") || !strings.Contains(raw, "last Tuesday") {
		t.Fatalf("audit payload must keep text and model response, got %s", raw)
	}
}

func TestProcessByIDStopsAtAttemptCeiling(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	claim := pendingClaim("claims/user-1/doc.pdf")
	claim.AIProcessing.Status = domain.AIFailed
	claim.AIProcessing.Attempts = 3
	repo := &claimRepoFake{claim: claim}
	notifier := &notifierFake{}
	uc := newProcessFixture(repo, storage, &textExtractorFake{text: "text"}, &fieldExtractorFake{}, notifier)

	err := uc.ProcessByID(context.Background(), "claim-1")
	if !domain.IsKind(err, domain.ErrMaxRetriesExceeded) {
		t.Fatalf("expected max-retries error, got %v", err)
	}
	if repo.claim.AIProcessing.Attempts != 3 {
		t.Fatalf("attempts must not grow past ceiling, got %d", repo.claim.AIProcessing.Attempts)
	}
	if len(repo.failures) != 0 || len(notifier.failed) != 0 {
		t.Fatalf("rejected attempt must not touch claim state or notify")
	}
}

func TestProcessByIDRejectsWhenSlotsSaturated(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	uc := NewProcessClaimUseCase(
		repo, storage,
		&usersFake{user: &domain.User{Email: "owner@example.com"}},
		&textExtractorFake{text: "text"},
		&fieldExtractorFake{},
		&notifierFake{},
		&queueFake{},
		3,
		1,
	)

	// Occupy the only slot so the run hits the saturation path.
	uc.slots <- struct{}{}
	defer func() { <-uc.slots }()

	err := uc.ProcessByID(context.Background(), "claim-1")
	if !domain.IsKind(err, domain.ErrTooManyRequests) {
		t.Fatalf("expected too-many-requests error, got %v", err)
	}
	if repo.claim.AIProcessing.Attempts != 0 {
		t.Fatalf("saturated run must not consume an attempt, got %d", repo.claim.AIProcessing.Attempts)
	}
}

func TestReprocessRejectsWhileInFlight(t *testing.T) {
	claim := pendingClaim("claims/user-1/doc.pdf")
	claim.AIProcessing.Status = domain.AIProcessing
	claim.AIProcessing.Attempts = 1
	repo := &claimRepoFake{claim: claim}
	queue := &queueFake{}
	uc := NewProcessClaimUseCase(repo, &storageFake{}, &usersFake{user: &domain.User{}},
		&textExtractorFake{}, &fieldExtractorFake{}, &notifierFake{}, queue, 3, 2)

	_, err := uc.Reprocess(context.Background(), "claim-1", "user-1")
	if !domain.IsKind(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected already-processing error, got %v", err)
	}
	if len(queue.published) != 0 {
		t.Fatalf("rejected reprocess must not publish, got %v", queue.published)
	}
}

func TestReprocessRejectsAfterMaxAttempts(t *testing.T) {
	claim := pendingClaim("claims/user-1/doc.pdf")
	claim.AIProcessing.Status = domain.AIFailed
	claim.AIProcessing.Attempts = 3
	repo := &claimRepoFake{claim: claim}
	queue := &queueFake{}
	uc := NewProcessClaimUseCase(repo, &storageFake{}, &usersFake{user: &domain.User{}},
		&textExtractorFake{}, &fieldExtractorFake{}, &notifierFake{}, queue, 3, 2)

	_, err := uc.Reprocess(context.Background(), "claim-1", "user-1")
	if !domain.IsKind(err, domain.ErrMaxRetriesExceeded) {
		t.Fatalf("expected max-retries error, got %v", err)
	}
	if repo.claim.AIProcessing.Attempts != 3 {
		t.Fatalf("rejected reprocess must not touch attempts, got %d", repo.claim.AIProcessing.Attempts)
	}
}

func TestReprocessPublishesForFailedClaim(t *testing.T) {
	claim := pendingClaim("claims/user-1/doc.pdf")
	claim.AIProcessing.Status = domain.AIFailed
	claim.AIProcessing.Attempts = 2
	repo := &claimRepoFake{claim: claim}
	queue := &queueFake{}
	uc := NewProcessClaimUseCase(repo, &storageFake{}, &usersFake{user: &domain.User{}},
		&textExtractorFake{}, &fieldExtractorFake{}, &notifierFake{}, queue, 3, 2)

	got, err := uc.Reprocess(context.Background(), "claim-1", "user-1")
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if got.ID != "claim-1" {
		t.Fatalf("unexpected claim returned: %+v", got)
	}
	if len(queue.published) != 1 || queue.published[0] != "claim-1" {
		t.Fatalf("expected one publish for claim-1, got %v", queue.published)
	}
}

func TestReprocessHidesForeignClaims(t *testing.T) {
	claim := pendingClaim("claims/user-1/doc.pdf")
	claim.AIProcessing.Status = domain.AIFailed
	repo := &claimRepoFake{claim: claim}
	uc := NewProcessClaimUseCase(repo, &storageFake{}, &usersFake{user: &domain.User{}},
		&textExtractorFake{}, &fieldExtractorFake{}, &notifierFake{}, &queueFake{}, 3, 2)

	_, err := uc.Reprocess(context.Background(), "claim-1", "someone-else")
	if !domain.IsKind(err, domain.ErrClaimNotFound) {
		t.Fatalf("expected not-found for foreign claim, got %v", err)
	}
}
