package securestorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"

	"DriveDecoder/internal/retry"
)

const (
	// ServiceName is the keyring service the API port and token live under
	ServiceName = "DriveDecoder"

	// DefaultUsername is the keyring account holding the API connection info
	DefaultUsername = "api_connection"

	// FileName is the fallback file in the temp directory
	FileName = "drivedecoder_connection.json"
)

var (
	// ErrSecureStorageUnavailable is returned when the keyring cannot be used
	ErrSecureStorageUnavailable = errors.New("secure storage is not available")

	// ErrNotFound is returned when no connection info has been stored
	ErrNotFound = errors.New("connection info not found")
)

// ConnectionInfo tells local clients where the API server listens
type ConnectionInfo struct {
	Addr      string    `json:"addr"`
	Port      int       `json:"port"`
	AuthToken string    `json:"auth_token"`
	Ready     bool      `json:"ready"`
	StartedAt time.Time `json:"started_at"`
}

// Storage persists ConnectionInfo
type Storage interface {
	Store(info ConnectionInfo) error
	Load() (ConnectionInfo, error)
	Delete() error
	IsAvailable() bool
}

// NewStorage prefers the OS keyring and falls back to a file in tempDir
func NewStorage(tempDir string) Storage {
	if s := newKeyringStorage(); s.IsAvailable() {
		return s
	}
	return NewFileStorage(afero.NewOsFs(), tempDir)
}

type keyringStorage struct {
	available bool
}

// newKeyringStorage probes the keyring with a throwaway value
func newKeyringStorage() *keyringStorage {
	probe := fmt.Sprintf("probe-%d", time.Now().UnixNano())
	if err := keyring.Set(ServiceName, DefaultUsername, probe); err != nil {
		return &keyringStorage{}
	}
	got, err := keyring.Get(ServiceName, DefaultUsername)
	_ = keyring.Delete(ServiceName, DefaultUsername)
	return &keyringStorage{available: err == nil && got == probe}
}

func (s *keyringStorage) Store(info ConnectionInfo) error {
	if !s.available {
		return ErrSecureStorageUnavailable
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal connection info: %w", err)
	}
	if err := keyring.Set(ServiceName, DefaultUsername, string(data)); err != nil {
		return fmt.Errorf("failed to store in secure keyring: %w", err)
	}
	return nil
}

func (s *keyringStorage) Load() (ConnectionInfo, error) {
	var info ConnectionInfo
	if !s.available {
		return info, ErrSecureStorageUnavailable
	}
	data, err := keyring.Get(ServiceName, DefaultUsername)
	if errors.Is(err, keyring.ErrNotFound) {
		return info, ErrNotFound
	}
	if err != nil {
		return info, fmt.Errorf("failed to load from secure keyring: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return info, fmt.Errorf("failed to unmarshal connection info: %w", err)
	}
	return info, nil
}

func (s *keyringStorage) Delete() error {
	if !s.available {
		return ErrSecureStorageUnavailable
	}
	err := keyring.Delete(ServiceName, DefaultUsername)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from secure keyring: %w", err)
	}
	return nil
}

func (s *keyringStorage) IsAvailable() bool {
	return s.available
}

// fileStorage writes the info as JSON with owner-only permissions
type fileStorage struct {
	fs       afero.Fs
	filePath string
}

// NewFileStorage creates a file-based storage in dir
func NewFileStorage(fs afero.Fs, dir string) Storage {
	return &fileStorage{fs: fs, filePath: filepath.Join(dir, FileName)}
}

// Store writes to a temp file and renames it, retrying while the file is
// held by another process
func (s *fileStorage) Store(info ConnectionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal connection info: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	return retry.Do(context.Background(), "store connection info", func() error {
		if err := afero.WriteFile(s.fs, tempFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write connection info: %w", err)
		}
		if err := s.fs.Rename(tempFile, s.filePath); err != nil {
			s.fs.Remove(tempFile)
			return fmt.Errorf("failed to finalize connection info: %w", err)
		}
		return nil
	})
}

func (s *fileStorage) Load() (ConnectionInfo, error) {
	var info ConnectionInfo
	data, err := afero.ReadFile(s.fs, s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return info, ErrNotFound
	}
	if err != nil {
		return info, fmt.Errorf("failed to read connection info: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("failed to unmarshal connection info: %w", err)
	}
	return info, nil
}

func (s *fileStorage) Delete() error {
	err := s.fs.Remove(s.filePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete connection info: %w", err)
	}
	return nil
}

func (s *fileStorage) IsAvailable() bool {
	return true
}
