package usecase

import (
	"context"
	"io"
	"testing"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

func TestGetPopulatesFileURL(t *testing.T) {
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	uc := NewClaimQueryUseCase(repo, &storageFake{})

	claim, err := uc.Get(context.Background(), "claim-1", "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if claim.FileURL != "/api/claims/claim-1/download" {
		t.Fatalf("expected download URL on claim detail, got %q", claim.FileURL)
	}
}

func TestGetHidesForeignClaims(t *testing.T) {
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	uc := NewClaimQueryUseCase(repo, &storageFake{})

	if _, err := uc.Get(context.Background(), "claim-1", "someone-else"); !domain.IsKind(err, domain.ErrClaimNotFound) {
		t.Fatalf("expected not-found for foreign claim, got %v", err)
	}
}

func TestGetUnscopedWithoutOwnerFilter(t *testing.T) {
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	uc := NewClaimQueryUseCase(repo, &storageFake{})

	claim, err := uc.Get(context.Background(), "claim-1", "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if claim.ID != "claim-1" {
		t.Fatalf("unexpected claim: %+v", claim)
	}
}

func TestOpenFileStreamsStoredDocument(t *testing.T) {
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	uc := NewClaimQueryUseCase(repo, storage)

	content, fileKey, err := uc.OpenFile(context.Background(), "claim-1", "user-1")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer content.Close()

	if fileKey != "claims/user-1/doc.pdf" {
		t.Fatalf("unexpected file key %q", fileKey)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if string(data) != string(pdfBytes()) {
		t.Fatalf("stored document bytes not returned")
	}
}

func TestOpenFileHidesForeignClaims(t *testing.T) {
	repo := &claimRepoFake{claim: pendingClaim("claims/user-1/doc.pdf")}
	storage := &storageFake{saved: map[string][]byte{"claims/user-1/doc.pdf": pdfBytes()}}
	uc := NewClaimQueryUseCase(repo, storage)

	if _, _, err := uc.OpenFile(context.Background(), "claim-1", "someone-else"); !domain.IsKind(err, domain.ErrClaimNotFound) {
		t.Fatalf("expected not-found for foreign claim, got %v", err)
	}
}
