// Package storage persists the portfolio history document as a JSON file.
// The file is read fully at startup and replaced fully on every save; no
// partial or concurrent writers are assumed.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/dkruglov/flatten/internal/domain"
)

// JSONFile stores the history document at a fixed path.
type JSONFile struct {
	path string
}

// NewJSONFile creates a store writing to the given path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Load reads the whole document. A missing file yields an empty document.
func (s *JSONFile) Load() (domain.HistoryDocument, error) {
	var doc domain.HistoryDocument

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, errors.Wrapf(err, "failed to read %s", s.path)
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.HistoryDocument{}, errors.Wrapf(err, "failed to decode %s", s.path)
	}
	return doc, nil
}

// Save replaces the whole document on disk, creating parent directories as
// needed. The write goes through a temp file and rename so a crash never
// leaves a truncated document.
func (s *JSONFile) Save(doc domain.HistoryDocument) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode history document")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", s.path)
	}
	return nil
}
