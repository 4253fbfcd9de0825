package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

// Layouts accepted for dateOfService. The extraction prompt asks for the
// first one; the rest cover common model drift.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
}

// NormalizeFields validates and normalizes an untrusted extraction payload.
// Missing strings become empty strings, a bad amount becomes 0, an unknown
// claim type falls back to medical, and non-list code fields become empty
// lists. A present but unparsable dateOfService is a validation failure.
// Normalization is idempotent: feeding the output back in reproduces it.
func NormalizeFields(payload json.RawMessage) (domain.ExtractedFields, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.ExtractedFields{}, domain.WrapError(domain.ErrExtractionInvalid, "decode extraction payload", err)
	}

	fields := domain.ExtractedFields{
		PatientName:    stringField(raw, "patientName"),
		ProviderName:   stringField(raw, "providerName"),
		Amount:         amountField(raw, "amount"),
		ClaimType:      claimTypeField(raw, "claimType"),
		DiagnosisCodes: codeListField(raw, "diagnosisCodes"),
		ProcedureCodes: codeListField(raw, "procedureCodes"),
	}

	dos, err := dateField(raw, "dateOfService")
	if err != nil {
		return domain.ExtractedFields{}, err
	}
	fields.DateOfService = dos

	return fields, nil
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}

func amountField(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || parsed < 0 {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func claimTypeField(raw map[string]any, key string) domain.ClaimType {
	s, _ := raw[key].(string)
	t := domain.ClaimType(strings.ToLower(strings.TrimSpace(s)))
	if !domain.ValidClaimType(t) {
		return domain.ClaimTypeMedical
	}
	return t
}

func codeListField(raw map[string]any, key string) []string {
	items, ok := raw[key].([]any)
	if !ok {
		return []string{}
	}
	codes := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			codes = append(codes, s)
		}
	}
	return codes
}

func dateField(raw map[string]any, key string) (time.Time, error) {
	s, _ := raw[key].(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.WrapError(domain.ErrExtractionInvalid, "parse dateOfService", fmt.Errorf("unparsable date %q", s))
}
