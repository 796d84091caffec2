package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Well-known keys under which the completed ceremony is persisted.
const (
	ElectionKey            = "election"
	ElectionGuardConfigKey = "electionGuardConfig"
)

// StorageLocation represents URI for storage backend.
type StorageLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname or bucket
	Path   string     // Resource path
	Query  url.Values // Query parameters
	User   *url.Userinfo
}

// NewStorageLocation creates a new storage location from a URI string with validation.
func NewStorageLocation(uri string) (StorageLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "vault", "memory":
	default:
		return StorageLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StorageLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		User:   parsed.User,
	}, nil
}

// String returns the original URI string.
func (loc StorageLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrKeyNotFound is returned when requested key is not present in the storage backend.
	ErrKeyNotFound = errors.New("key not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// KVStore is the external key-value store holding the persisted election.
type KVStore interface {
	// Get retrieves the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}
