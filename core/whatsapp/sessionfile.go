package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrSessionCorrupt is returned when the session record exists but is not valid JSON.
var ErrSessionCorrupt = errors.New("session record is corrupt")

// SessionRecord is persisted after pairing so restarts reuse the same device.
// Credentials live in the device store; this file only names the device.
type SessionRecord struct {
	JID          string    `json:"jid"`
	Platform     string    `json:"platform,omitempty"`
	BusinessName string    `json:"business_name,omitempty"`
	PairedAt     time.Time `json:"paired_at"`
}

// ReadSession loads the record at path. A missing file yields (nil, nil).
func ReadSession(path string) (*SessionRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, path, err)
	}
	return &rec, nil
}

// WriteSession stores rec at path through a temporary file and rename.
func WriteSession(path string, rec SessionRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
