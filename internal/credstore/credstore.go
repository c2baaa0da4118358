// Package credstore persists the authentication record (basic credentials,
// OAuth client identity, and the access/refresh token pair) to a single JSON
// file. Every mutation rewrites the whole record atomically so the next CLI
// invocation always observes the latest state.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FilePerms restricts the credential file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credential file's directory.
const DirPerms = 0o700

// Mode identifies which authentication mode a Credentials record carries.
type Mode string

// Authentication modes.
const (
	ModeNone  Mode = "none"
	ModeBasic Mode = "basic"
	ModeOAuth Mode = "oauth"
)

// Credentials is the persisted authentication record. Empty strings mean
// "unset"; every key is always written so the file shape stays stable.
type Credentials struct {
	ClientID     string `json:"clientID"`
	ClientSecret string `json:"clientSecret"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Cookie       string `json:"cookie"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// Mode reports the active authentication mode. OAuth wins over basic when
// both token and password fields are populated.
func (c Credentials) Mode() Mode {
	switch {
	case c.AccessToken != "" || c.RefreshToken != "":
		return ModeOAuth
	case c.Username != "" && c.Password != "":
		return ModeBasic
	default:
		return ModeNone
	}
}

// IsZero reports whether every field is empty.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// LogValue implements slog.LogValuer. Secrets are reduced to a set/unset flag.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", string(c.Mode())),
		slog.String("username", c.Username),
		slog.Bool("client_id_set", c.ClientID != ""),
		slog.Bool("client_secret_set", c.ClientSecret != ""),
		slog.Bool("access_token_set", c.AccessToken != ""),
		slog.Bool("refresh_token_set", c.RefreshToken != ""),
	)
}

// ErrStorage is the sentinel wrapped by every StorageError.
var ErrStorage = errors.New("credstore: storage error")

// StorageError reports a failure reading, decoding, or writing the
// credential file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("credstore: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the ErrStorage sentinel and the underlying cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// Store reads and writes Credentials at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// New returns a Store backed by the file at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the credential file. A missing file yields an all-empty record
// and no error so first-run flows work without setup.
func (s *Store) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no credential file, starting empty", slog.String("path", s.path))

		return Credentials{}, nil
	}

	if err != nil {
		return Credentials{}, &StorageError{Op: "reading", Path: s.path, Err: err}
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, &StorageError{Op: "decoding", Path: s.path, Err: err}
	}

	s.logger.Debug("loaded credentials", slog.String("path", s.path), slog.Any("credentials", creds))

	return creds, nil
}

// Save writes the full record atomically (write-to-temp + fsync + rename)
// with 0600 permissions. The previous record is replaced wholesale.
func (s *Store) Save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "    ")
	if err != nil {
		return &StorageError{Op: "encoding", Path: s.path, Err: err}
	}

	if err := writeAtomic(s.path, data); err != nil {
		return &StorageError{Op: "writing", Path: s.path, Err: err}
	}

	s.logger.Debug("saved credentials", slog.String("path", s.path), slog.Any("credentials", creds))

	return nil
}

// Reset clears every field and saves. It succeeds whether or not a file
// existed before.
func (s *Store) Reset() error {
	s.logger.Info("resetting credentials", slog.String("path", s.path))

	return s.Save(Credentials{})
}

// Update runs a load-modify-save cycle and returns the saved record.
func (s *Store) Update(mutate func(*Credentials)) (Credentials, error) {
	creds, err := s.Load()
	if err != nil {
		return Credentials{}, err
	}

	mutate(&creds)

	if err := s.Save(creds); err != nil {
		return Credentials{}, err
	}

	return creds, nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it over path. Same directory guarantees same filesystem for rename(2).
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".auth-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	// Flush before rename so a crash cannot leave a truncated record behind.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}
