package usecase

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

func TestNormalizeFieldsDefaults(t *testing.T) {
	fields, err := NormalizeFields(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("NormalizeFields() error = %v", err)
	}
	if fields.PatientName != "" || fields.ProviderName != "" {
		t.Fatalf("missing strings must normalize to empty, got %+v", fields)
	}
	if fields.Amount != 0 {
		t.Fatalf("missing amount must normalize to 0, got %v", fields.Amount)
	}
	if fields.ClaimType != domain.ClaimTypeMedical {
		t.Fatalf("missing claim type must fall back to medical, got %s", fields.ClaimType)
	}
	if fields.DiagnosisCodes == nil || len(fields.DiagnosisCodes) != 0 {
		t.Fatalf("missing codes must normalize to empty list, got %v", fields.DiagnosisCodes)
	}
	if !fields.DateOfService.IsZero() {
		t.Fatalf("missing date must stay zero, got %v", fields.DateOfService)
	}
}

func TestNormalizeFieldsCoercions(t *testing.T) {
	payload := `{
		"patientName": "  Jane Roe  ",
		"providerName": "Acme Clinic",
		"dateOfService": "2024-03-05",
		"amount": "150.00",
		"claimType": "surgical",
		"diagnosisCodes": "A10",
		"procedureCodes": ["99213", "  ", 42, "99214"]
	}`

	fields, err := NormalizeFields(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("NormalizeFields() error = %v", err)
	}
	if fields.PatientName != "Jane Roe" {
		t.Fatalf("expected trimmed patient name, got %q", fields.PatientName)
	}
	if fields.Amount != 150.00 {
		t.Fatalf("string amount must parse, got %v", fields.Amount)
	}
	if fields.ClaimType != domain.ClaimTypeMedical {
		t.Fatalf("unknown claim type must fall back to medical, got %s", fields.ClaimType)
	}
	if len(fields.DiagnosisCodes) != 0 {
		t.Fatalf("non-list codes must become empty list, got %v", fields.DiagnosisCodes)
	}
	if len(fields.ProcedureCodes) != 2 || fields.ProcedureCodes[0] != "99213" || fields.ProcedureCodes[1] != "99214" {
		t.Fatalf("expected non-string and blank entries dropped, got %v", fields.ProcedureCodes)
	}
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !fields.DateOfService.Equal(want) {
		t.Fatalf("expected %v, got %v", want, fields.DateOfService)
	}
}

func TestNormalizeFieldsNegativeAmount(t *testing.T) {
	fields, err := NormalizeFields(json.RawMessage(`{"amount": -12.5}`))
	if err != nil {
		t.Fatalf("NormalizeFields() error = %v", err)
	}
	if fields.Amount != 0 {
		t.Fatalf("negative amount must normalize to 0, got %v", fields.Amount)
	}
}

func TestNormalizeFieldsRejectsUnparsableDate(t *testing.T) {
	_, err := NormalizeFields(json.RawMessage(`{"dateOfService": "last Tuesday"}`))
	if !domain.IsKind(err, domain.ErrExtractionInvalid) {
		t.Fatalf("expected extraction-invalid error, got %v", err)
	}
}

func TestNormalizeFieldsRejectsNonObjectPayload(t *testing.T) {
	_, err := NormalizeFields(json.RawMessage(`"just a string"`))
	if !domain.IsKind(err, domain.ErrExtractionInvalid) {
		t.Fatalf("expected extraction-invalid error, got %v", err)
	}
}

func TestNormalizeFieldsIdempotent(t *testing.T) {
	first, err := NormalizeFields(json.RawMessage(`{
		"patientName": " John Q ",
		"dateOfService": "2024-01-15",
		"amount": "99.95",
		"claimType": "VISION",
		"diagnosisCodes": ["Z00.0"]
	}`))
	if err != nil {
		t.Fatalf("NormalizeFields() error = %v", err)
	}

	reencoded, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal normalized fields: %v", err)
	}
	second, err := NormalizeFields(reencoded)
	if err != nil {
		t.Fatalf("NormalizeFields() second pass error = %v", err)
	}

	if second.PatientName != first.PatientName ||
		second.Amount != first.Amount ||
		second.ClaimType != first.ClaimType ||
		!second.DateOfService.Equal(first.DateOfService) {
		t.Fatalf("normalization not idempotent: first=%+v second=%+v", first, second)
	}
}
