// Package textsource loads plain-text documents for analysis.
package textsource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/pkg/textx"
)

// MaxBytes caps a single document.
const MaxBytes = 8 << 20

// LoadFile reads path and returns its sanitized text. Binary formats such as
// PDF or DOCX are rejected with an *domain.InputError; extracting them is the
// caller's job.
func LoadFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("op=textsource.LoadFile: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f, filepath.Base(path))
}

// Load reads r fully and validates it as text. name is used in error details.
func Load(r io.Reader, name string) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("op=textsource.Load: %w", err)
	}
	if len(b) > MaxBytes {
		return "", &domain.InputError{Field: name, Reason: "exceeds size limit"}
	}
	if err := CheckText(b, name); err != nil {
		return "", err
	}
	return textx.SanitizeText(string(b)), nil
}

// CheckText sniffs b and rejects anything that is not text.
func CheckText(b []byte, name string) error {
	mt := mimetype.Detect(b)
	if !IsTextMIME(mt) {
		return &domain.InputError{Field: name, Reason: "unsupported media type " + mt.String()}
	}
	return nil
}

// IsTextMIME reports whether mt or one of its parents is text/plain.
func IsTextMIME(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return true
		}
	}
	return false
}
