package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	appconfig "finpay-client/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
)

// DataKey is a per-value encryption key together with its wrapped form. Only
// the wrapped form is persisted.
type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// KeyProvider wraps and unwraps data keys. Managed deployments use KMS; local
// profiles fall back to unwrapped (base64) keys, which keeps the file format
// identical between the two modes.
type KeyProvider interface {
	GenerateDataKey(ctx context.Context) (*DataKey, error)
	UnwrapDataKey(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// NewKeyProvider builds a provider from config, dialing KMS only when enabled.
func NewKeyProvider(ctx context.Context, cfg appconfig.VaultConfig) (KeyProvider, error) {
	if !cfg.KMSEnabled {
		return &localKeyProvider{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &kmsKeyProvider{
		client: kms.NewFromConfig(awsCfg),
		keyID:  cfg.KMSKeyID,
	}, nil
}

type kmsKeyProvider struct {
	client *kms.Client
	keyID  string
}

func (p *kmsKeyProvider) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	input := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(p.keyID),
		KeySpec: types.DataKeySpecAes256,
	}
	result, err := p.client.GenerateDataKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      p.keyID,
	}, nil
}

func (p *kmsKeyProvider) UnwrapDataKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	result, err := p.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: ciphertext})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data key: %w", err)
	}
	return result.Plaintext, nil
}

type localKeyProvider struct{}

func (p *localKeyProvider) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	key := make([]byte, 32) // AES-256
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate local data key: %w", err)
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		KeyID:      uuid.New().String(),
	}, nil
}

func (p *localKeyProvider) UnwrapDataKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(string(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("invalid local data key: %w", err)
	}
	return key, nil
}
