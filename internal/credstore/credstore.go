// Package credstore persists per-channel authentication credentials in a
// single JSON file on disk, the way a single-user CLI tool needs without
// reaching for a keyring integration.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mamba-org/rattler/internal/atomicfile"
)

// Credential is the auth material stored for one channel or registry URL.
type Credential struct {
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Store maps a canonical channel URL to its Credential.
type Store struct {
	Channels map[string]Credential `json:"channels"`
}

// ConfigDir returns the platform-appropriate config directory
// (~/.config/rattler on Linux, via the standard per-OS config dir
// switch).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Preferences", "rattler"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "rattler"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "rattler"), nil
	default:
		return filepath.Join(home, ".config", "rattler"), nil
	}
}

// Path returns the path to credentials.json.
func Path() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.json"), nil
}

// Load reads the store from disk. A missing file yields an empty,
// ready-to-use Store rather than an error.
func Load() (*Store, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Store{Channels: make(map[string]Credential)}, nil
		}
		return nil, fmt.Errorf("credstore: reading %s: %w", path, err)
	}

	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("credstore: parsing %s: %w", path, err)
	}
	if s.Channels == nil {
		s.Channels = make(map[string]Credential)
	}
	return &s, nil
}

// Save writes the store to disk at 0600 via write-then-rename.
func (s *Store) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("credstore: creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: marshaling: %w", err)
	}
	return atomicfile.WriteFile(path, data, 0o600)
}

// Get returns the credential for a channel URL, if one is stored.
func (s *Store) Get(channel string) (Credential, bool) {
	c, ok := s.Channels[channel]
	return c, ok
}

// Set stores (or replaces) the credential for a channel URL.
func (s *Store) Set(channel string, cred Credential) {
	if s.Channels == nil {
		s.Channels = make(map[string]Credential)
	}
	s.Channels[channel] = cred
}

// Delete removes any stored credential for a channel URL.
func (s *Store) Delete(channel string) {
	delete(s.Channels, channel)
}
