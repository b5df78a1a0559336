package extract

import (
	"context"
	"os"
)

// PlainText reads text documents as-is.
type PlainText struct{}

func (PlainText) Extract(_ context.Context, path string) (Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		// I/O errors are transient from the pipeline's point of view
		return Result{}, err
	}
	return Result{Text: string(b), Pages: 1}, nil
}
