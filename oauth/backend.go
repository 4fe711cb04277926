package oauth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// Backend is the key/value persistence capability the credential store
// is built on. Get returns "" with a nil error when the key is absent;
// a non-nil error means the backend itself is unavailable.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

const (
	// KeyringService is the service name under which credentials are
	// stored in the system keyring.
	KeyringService = "prefid"

	// DefaultStoragePath is the file fallback location. Supports ~ for
	// the home directory.
	DefaultStoragePath = "~/.config/prefid"
)

// KeyringBackend persists values in the system keyring:
//   - macOS: Keychain
//   - Windows: Credential Manager
//   - Linux: Secret Service (libsecret)
type KeyringBackend struct {
	service string
}

// NewKeyringBackend creates a keyring-backed store under the given
// service name ("" means KeyringService).
func NewKeyringBackend(service string) *KeyringBackend {
	if service == "" {
		service = KeyringService
	}
	return &KeyringBackend{service: service}
}

func (k *KeyringBackend) Get(key string) (string, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return value, nil
}

func (k *KeyringBackend) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (k *KeyringBackend) Delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// Available reports whether the keyring can be reached. ErrNotFound
// counts as available: the keyring answered, the key just isn't there.
func (k *KeyringBackend) Available() bool {
	_, err := keyring.Get(k.service, "__probe__")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// FileBackend persists values as one file per key with restricted
// permissions. Fallback for systems without a usable keyring.
type FileBackend struct {
	dir string
	mu  sync.RWMutex
}

// NewFileBackend creates a file-backed store rooted at dir ("" means
// DefaultStoragePath). A leading ~ is expanded to the home directory.
func NewFileBackend(dir string) *FileBackend {
	if dir == "" {
		dir = DefaultStoragePath
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	return &FileBackend{dir: dir}
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileBackend) Get(key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), nil
}

func (f *FileBackend) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.WriteFile(f.path(key), []byte(value), 0600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Dir returns the storage directory.
func (f *FileBackend) Dir() string {
	return f.dir
}

// MemoryBackend holds values in process memory. It is instance-scoped
// on purpose: two clients never share a fallback map.
type MemoryBackend struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{m: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.m[key], nil
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

// NewDurableBackend probes the environment once and returns the best
// durable backend: the system keyring when reachable, otherwise file
// storage at storagePath. disableKeyring forces the file backend (some
// CI and container setups have a dbus keyring that hangs).
func NewDurableBackend(storagePath string, disableKeyring bool) Backend {
	if !disableKeyring {
		kb := NewKeyringBackend("")
		if kb.Available() {
			return kb
		}
	}
	return NewFileBackend(storagePath)
}
