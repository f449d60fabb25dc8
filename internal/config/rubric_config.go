package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReadRubricFile returns the raw YAML of an operator-supplied rubric.
// An empty path yields nil so callers fall back to the embedded rubric.
func ReadRubricFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.ReadRubricFile: %w", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("op=config.ReadRubricFile: rubric file not found: %s", absPath)
	}
	// #nosec G304 -- operator-supplied configuration path
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.ReadRubricFile: %w", err)
	}
	return content, nil
}
