package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/election-ceremony-console/interfaces"
)

// VaultStore implements a store on a HashiCorp Vault KV v2 mount using token
// authentication. Each key is one secret holding a single "content" field.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a new Vault store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "ceremony")
//   - token: Vault token; when empty the client falls back to VAULT_TOKEN
//   - log: Structured logger for operational insights
func NewVaultStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")
	if mountPath == "" {
		return nil, fmt.Errorf("%w: missing Vault mount path", interfaces.ErrInvalidLocationURI)
	}

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

func (b *VaultStore) secretPath(kind, key string) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", b.mountPath, kind, key)
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, key)
}

// Get reads the latest version of the key using the KV v2 API.
func (b *VaultStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	path := b.secretPath("data", key)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Key not found in Vault", slog.String("path", path))
		return nil, interfaces.ErrKeyNotFound
	}

	// Deleted versions are returned with null data
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, interfaces.ErrKeyNotFound
	}

	content, ok := data["content"].(string)
	if !ok {
		b.log.Error("Invalid content format in Vault data", slog.String("path", path))
		return nil, fmt.Errorf("invalid content format in Vault data")
	}

	b.log.Debug("Fetched key from Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return []byte(content), nil
}

func (b *VaultStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	path := b.secretPath("data", key)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(value),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Info("Stored key in Vault", slog.String("path", path))
	return nil
}

// Delete removes every version of the key through its metadata path.
func (b *VaultStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	path := b.secretPath("metadata", key)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultStore) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this store.
func (b *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this store.
func (b *VaultStore) LocationURI() string {
	return b.locationURI
}
