package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/clearbill/claims-intake/internal/core/ports"
)

// Service produces XLSX workbooks for reviewer-side claim exports.
type Service struct {
	repo   ports.ClaimRepository
	logger *slog.Logger
}

func NewService(repo ports.ClaimRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

const sheetName = "Claims"

// ExportClaimsXLSX returns a workbook with one row per claim, newest first.
func (s *Service) ExportClaimsXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	claims, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	headers := []string{
		"Claim ID",
		"Owner",
		"Status",
		"Patient",
		"Provider",
		"Date of Service",
		"Amount",
		"Claim Type",
		"Diagnosis Codes",
		"Procedure Codes",
		"AI Status",
		"AI Attempts",
		"AI Error",
		"Submitted",
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for rowIdx, claim := range claims {
		row := rowIdx + 2
		values := []any{
			claim.ID,
			claim.UserID,
			string(claim.Status),
			claim.PatientName,
			claim.ProviderName,
			formatDate(claim.DateOfService),
			claim.Amount,
			string(claim.ClaimType),
			strings.Join(claim.DiagnosisCodes, ", "),
			strings.Join(claim.ProcedureCodes, ", "),
			string(claim.AIProcessing.Status),
			claim.AIProcessing.Attempts,
			claim.AIProcessing.Error,
			claim.CreatedAt.UTC().Format(time.RFC3339),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, fmt.Errorf("claim cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, fmt.Errorf("write claim row: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}

	s.logger.Info("exported claims workbook",
		"claims", len(claims),
		"bytes", buf.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
