package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

var pdfMagic = []byte("%PDF")

// Extractor pulls plain text out of PDF bytes. Non-PDF content is a
// permanent UnsupportedFormat failure, a readable PDF with no text is
// NoTextExtracted, and parser blowups map to CorruptDocument.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, data []byte) (text string, err error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "extract pdf text",
			errors.New("missing PDF signature"))
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = domain.WrapError(domain.ErrCorruptDocument, "extract pdf text",
				fmt.Errorf("parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrCorruptDocument, "extract pdf text", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", domain.WrapError(domain.ErrCorruptDocument, "extract pdf text", err)
	}

	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", domain.WrapError(domain.ErrCorruptDocument, "extract pdf text", err)
	}

	text = strings.TrimSpace(string(raw))
	if text == "" {
		return "", domain.WrapError(domain.ErrNoTextExtracted, "extract pdf text",
			errors.New("document contains no extractable text"))
	}
	return text, nil
}
