package domain

import (
	"encoding/json"
	"time"
)

// ClaimStatus is the business-review status of a claim, set by humans.
type ClaimStatus string

const (
	StatusProcessing ClaimStatus = "processing"
	StatusPending    ClaimStatus = "pending"
	StatusApproved   ClaimStatus = "approved"
	StatusRejected   ClaimStatus = "rejected"
	StatusPaid       ClaimStatus = "paid"
)

func ValidClaimStatus(s ClaimStatus) bool {
	switch s {
	case StatusProcessing, StatusPending, StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// AIStatus tracks automated field extraction, independent of ClaimStatus.
type AIStatus string

const (
	AIPending    AIStatus = "pending"
	AIProcessing AIStatus = "processing"
	AICompleted  AIStatus = "completed"
	AIFailed     AIStatus = "failed"
)

type ClaimType string

const (
	ClaimTypeMedical  ClaimType = "medical"
	ClaimTypeDental   ClaimType = "dental"
	ClaimTypeVision   ClaimType = "vision"
	ClaimTypePharmacy ClaimType = "pharmacy"
)

func ValidClaimType(t ClaimType) bool {
	switch t {
	case ClaimTypeMedical, ClaimTypeDental, ClaimTypeVision, ClaimTypePharmacy:
		return true
	}
	return false
}

// AIProcessingState is the extraction sub-record. Attempts only grows and is
// capped by configuration; a completed state always carries an empty Error.
type AIProcessingState struct {
	Status      AIStatus   `json:"status"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"lastAttempt"`
	Error       string     `json:"error,omitempty"`
}

// ExtractedFields is the normalized output of field extraction.
type ExtractedFields struct {
	PatientName    string    `json:"patientName"`
	ProviderName   string    `json:"providerName"`
	DateOfService  time.Time `json:"dateOfService,omitzero"`
	Amount         float64   `json:"amount"`
	ClaimType      ClaimType `json:"claimType"`
	DiagnosisCodes []string  `json:"diagnosisCodes"`
	ProcedureCodes []string  `json:"procedureCodes"`
}

type Claim struct {
	ID      string `json:"id"`
	UserID  string `json:"user"`
	FileKey string `json:"fileKey"`

	// FileURL is derived on read, never persisted: the API path that serves
	// the stored document.
	FileURL string `json:"fileUrl,omitempty"`

	Status ClaimStatus `json:"status"`

	ExtractedFields

	// ExtractedRaw keeps the raw extraction payload (source text and model
	// response) for audit, including on validation failure.
	ExtractedRaw json.RawMessage `json:"extractedData,omitempty"`

	AIProcessing AIProcessingState `json:"aiProcessingStatus"`

	ProcessedBy string `json:"processedBy,omitempty"`
	Notes       string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProcessingStatus is the read model returned by the status endpoint.
type ProcessingStatus struct {
	ClaimStatus        ClaimStatus       `json:"claimStatus"`
	AIProcessingStatus AIProcessingState `json:"aiProcessingStatus"`
}

// FieldExtraction is the untrusted result of the field-extraction service.
// Payload is the JSON object located inside the model output; RawResponse is
// the complete output kept for audit.
type FieldExtraction struct {
	Payload     json.RawMessage
	RawResponse string
}
