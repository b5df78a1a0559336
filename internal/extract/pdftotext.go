package extract

import (
	"context"
	"fmt"
	"strings"
)

// pdftotext exit codes: 1 = error opening the PDF (unreadable or corrupt),
// 3 = permission error. Other non-zero codes cover output and misc errors.
const pdftotextCodeOpenError = 1

// PDFToText extracts text from PDFs by shelling out to poppler's pdftotext.
type PDFToText struct {
	bin    string
	runner Runner
}

func NewPDFToText(bin string) *PDFToText {
	if bin == "" {
		bin = "pdftotext"
	}
	return &PDFToText{bin: bin, runner: execRunner{}}
}

func (p *PDFToText) Extract(ctx context.Context, path string) (Result, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, code, err := p.runner.Run(ctx, p.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		detail := strings.TrimSpace(string(errb))
		if detail == "" {
			detail = err.Error()
		}
		if code == pdftotextCodeOpenError {
			return Result{}, fmt.Errorf("pdftotext: %s: %w", detail, ErrMalformed)
		}
		return Result{}, fmt.Errorf("pdftotext: %s", detail)
	}

	text := string(out)
	// pdftotext separates pages with a form feed
	pages := 1 + strings.Count(strings.TrimRight(text, "\f"), "\f")
	return Result{Text: text, Pages: pages}, nil
}
