package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// StoreFactory creates stores from URI strings and manages multi-store
// configurations for redundant storage.
type StoreFactory struct {
	log *slog.Logger
}

func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// StoreFor creates a store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - Vault KV v2
//   - memory:// - Process memory
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StoreFactory) StoreFor(locationURI string) (interfaces.KVStore, error) {
	loc, err := interfaces.NewStorageLocation(locationURI)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "s3":
		return sf.createS3Store(loc)
	case "vault":
		return sf.createVaultStore(loc)
	case "memory":
		return NewMemoryStore(loc.Host), nil
	default:
		return sf.createFileStore(loc)
	}
}

// CreateMultiStore creates a multi-store from a list of location URIs. URIs
// that cannot be turned into a store are logged and skipped. Returns an
// error if no store could be created.
func (sf *StoreFactory) CreateMultiStore(locationURIs []string) (interfaces.KVStore, error) {
	stores := make([]interfaces.KVStore, 0, len(locationURIs))

	for _, uri := range locationURIs {
		store, err := sf.StoreFor(uri)
		if err != nil {
			sf.log.Warn("Failed to create store",
				"err", err,
				slog.String("locationURI", uri))
			continue
		}
		stores = append(stores, store)
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("no valid stores created")
	}
	if len(stores) == 1 {
		return stores[0], nil
	}

	return NewMultiStore(stores, sf.log), nil
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=http://minio:9000&pathStyle=true
func (sf *StoreFactory) createS3Store(loc interfaces.StorageLocation) (interfaces.KVStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("bucket", loc.Host))

	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("pathStyle"),
	}
	if loc.User != nil {
		cfg.AccessKey = loc.User.Username()
		cfg.SecretKey, _ = loc.User.Password()
	}

	return NewS3Store(cfg, sf.log)
}

// createVaultStore creates a Vault KV v2 store.
// URI format: vault://[TOKEN@]host:port/mount/path?tls=false
// The first path segment is the mount; the rest is the path inside it.
func (sf *StoreFactory) createVaultStore(loc interfaces.StorageLocation) (interfaces.KVStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("host", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault host", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	mount, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")

	var token string
	if loc.User != nil {
		token = loc.User.Username()
	}

	return NewVaultStore(fmt.Sprintf("%s://%s", scheme, loc.Host), mount, dataPath, token, sf.log)
}

// createFileStore creates a file system store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StoreFactory) createFileStore(loc interfaces.StorageLocation) (interfaces.KVStore, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	sf.log.Debug("Creating file store", slog.String("path", path))
	return NewFileStore(filepath.Clean(path), sf.log)
}
