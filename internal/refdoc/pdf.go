package refdoc

import (
	"bytes"

	"github.com/ledongthuc/pdf"
)

// extractPDFText reduces a PDF reference document to its plain text so
// the section scanner can treat it like the .sql original.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}
