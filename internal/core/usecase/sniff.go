package usecase

import "bytes"

var pdfMagic = []byte("%PDF")

// isPDF checks the document signature (25 50 44 46) at the start of the
// buffer. Everything else is a permanent format failure for the pipeline.
func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}
