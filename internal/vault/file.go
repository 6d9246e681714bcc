package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"finpay-client/internal/util"

	"go.uber.org/zap"
)

// encryptedEntry is one envelope-encrypted value: AES-256-GCM ciphertext plus
// the wrapped data key that protects it.
type encryptedEntry struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

type fileState struct {
	Entries map[string]encryptedEntry `json:"entries"`
}

// FileVault persists envelope-encrypted entries in a single JSON file,
// replaced atomically on every write.
type FileVault struct {
	path     string
	provider KeyProvider
	logger   *zap.Logger
	keyCache sync.Map // wrapped DEK (base64) -> plaintext DEK
	mu       sync.Mutex
}

// NewFileVault opens (or lazily creates) the vault file at path.
func NewFileVault(path string, provider KeyProvider, logger *zap.Logger) (*FileVault, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &FileVault{path: path, provider: provider, logger: logger}, nil
}

func (v *FileVault) Get(ctx context.Context, key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	state, err := v.load()
	if err != nil {
		return "", err
	}
	entry, ok := state.Entries[key]
	if !ok {
		return "", ErrNotFound
	}
	value, err := v.decrypt(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

func (v *FileVault) Set(ctx context.Context, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	state, err := v.load()
	if err != nil {
		return err
	}
	entry, err := v.encrypt(ctx, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	state.Entries[key] = *entry
	return v.persist(state)
}

func (v *FileVault) Delete(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	state, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := state.Entries[key]; !ok {
		return nil
	}
	delete(state.Entries, key)
	return v.persist(state)
}

func (v *FileVault) ClearSession(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	state, err := v.load()
	if err != nil {
		return err
	}
	for _, key := range SessionKeys() {
		delete(state.Entries, key)
	}
	if err := v.persist(state); err != nil {
		return err
	}
	v.logger.Debug("vault session keys cleared", util.String("path", v.path))
	return nil
}

func (v *FileVault) load() (*fileState, error) {
	raw, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileState{Entries: map[string]encryptedEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var state fileState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: corrupt vault file: %v", ErrUnavailable, err)
	}
	if state.Entries == nil {
		state.Entries = map[string]encryptedEntry{}
	}
	return &state, nil
}

func (v *FileVault) persist(state *fileState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (v *FileVault) encrypt(ctx context.Context, plaintext string) (*encryptedEntry, error) {
	dataKey, err := v.provider.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dataKey.Plaintext)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	wrapped := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	v.keyCache.Store(wrapped, dataKey.Plaintext)

	return &encryptedEntry{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   wrapped,
		KeyID:          dataKey.KeyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (v *FileVault) decrypt(ctx context.Context, entry encryptedEntry) (string, error) {
	var dek []byte
	if cached, ok := v.keyCache.Load(entry.EncryptedDEK); ok {
		dek = cached.([]byte)
	} else {
		wrapped, err := base64.StdEncoding.DecodeString(entry.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("invalid DEK encoding: %w", err)
		}
		dek, err = v.provider.UnwrapDataKey(ctx, wrapped)
		if err != nil {
			return "", err
		}
		v.keyCache.Store(entry.EncryptedDEK, dek)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(entry.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	block, err := aes.NewCipher(dek)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
