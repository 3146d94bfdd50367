// Package store persists sessions as a JSON array with a single backup
// generation. Loads are tolerant: one corrupt record costs that record, not
// the file, and a corrupt file falls back to the backup.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/troupe-dev/troupe/internal/config"
	"github.com/troupe-dev/troupe/internal/errors"
	"github.com/troupe-dev/troupe/internal/logger"
	"github.com/troupe-dev/troupe/internal/session"
)

const sessionsFile = "sessions.json"

// Store reads and writes the session file.
type Store struct {
	path string
}

// New creates a store at the default location under the data directory.
func New() (*Store, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return NewAt(filepath.Join(dir, sessionsFile)), nil
}

// NewAt creates a store at an explicit path (tests).
func NewAt(path string) *Store {
	return &Store{path: path}
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) backupPath() string {
	return s.path + ".bak"
}

// Save writes the sessions atomically: the current file is copied to the
// single .bak sibling, then the new content lands via temp file + rename.
func (s *Store) Save(sessions []*session.Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return errors.StoreSaveFailed(s.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.StoreSaveFailed(s.path, err)
	}

	// Roll the previous generation to .bak before overwriting. Best-effort:
	// a failed backup copy must not block the save itself.
	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.backupPath(), prev, 0644); err != nil {
			logger.Warn("Store: failed to write backup %s: %v", s.backupPath(), err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), sessionsFile+".tmp-*")
	if err != nil {
		return errors.StoreSaveFailed(s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.StoreSaveFailed(s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.StoreSaveFailed(s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.StoreSaveFailed(s.path, err)
	}

	logger.Debug("Store: saved %d session(s) to %s", len(sessions), s.path)
	return nil
}

// Load reads the session file tolerantly. Records that fail to decode or
// validate are skipped with a log line. If the whole file is unreadable, or
// it yields zero usable records while the backup yields some, the backup is
// decoded the same way. A missing file is an empty session list.
func (s *Store) Load() ([]*session.Session, error) {
	sessions, err := loadFile(s.path)
	if err == nil && len(sessions) > 0 {
		return sessions, nil
	}
	if os.IsNotExist(err) {
		// First run; nothing to recover.
		if _, bakErr := os.Stat(s.backupPath()); os.IsNotExist(bakErr) {
			return nil, nil
		}
	}
	if err != nil {
		logger.Warn("Store: primary load from %s failed: %v", s.path, err)
	}

	backup, bakErr := loadFile(s.backupPath())
	if bakErr != nil {
		if err != nil {
			return nil, errors.StoreLoadFailed(s.path, err)
		}
		// Primary read fine but empty, backup unreadable: trust the primary.
		return sessions, nil
	}
	if len(backup) > 0 {
		logger.Warn("Store: recovered %d session(s) from backup %s", len(backup), s.backupPath())
		return backup, nil
	}
	return sessions, nil
}

// loadFile decodes one file as a list of raw records, decoding and validating
// each independently so a single bad record is dropped rather than poisoning
// the rest.
func loadFile(path string) ([]*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var sessions []*session.Session
	for i, record := range raw {
		var sess session.Session
		if err := json.Unmarshal(record, &sess); err != nil {
			logger.Warn("Store: skipping undecodable session record %d in %s: %v", i, path, err)
			continue
		}
		sess.Normalize()
		if err := sess.Validate(); err != nil {
			logger.Warn("Store: skipping invalid session record %d in %s: %v", i, path, err)
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}
