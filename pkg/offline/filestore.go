package offline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps the action list in a single JSON file, one file per vendor.
// Writes go through a temp file and rename so a crash mid-write never leaves
// a truncated queue.
type FileStore struct {
	path string
}

func NewFileStore(dir, vendorID string) *FileStore {
	return &FileStore{
		path: filepath.Join(dir, fmt.Sprintf("offline-actions-%s.json", vendorID)),
	}
}

func (s *FileStore) Load() ([]Action, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read action store: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("cannot decode action store: %w", err)
	}
	return actions, nil
}

func (s *FileStore) Save(actions []Action) error {
	if actions == nil {
		actions = []Action{}
	}
	data, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode action store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cannot create action store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write action store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cannot commit action store: %w", err)
	}
	return nil
}
