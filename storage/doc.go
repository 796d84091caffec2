// Package storage provides the key-value stores that persist a completed
// election outside process memory.
//
// Every backend implements interfaces.KVStore. Values are opaque bytes stored
// under short keys such as interfaces.ElectionKey; keys are restricted to
// letters, digits, '.', '_' and '-' so they map safely onto file names, object
// keys and Vault paths.
//
//   - File system storage for a single console host
//   - S3-compatible object storage
//   - Vault KV v2 with token authentication
//   - In-memory storage for tests and demos
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/ceremony/
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000&pathStyle=true
//   - vault://[TOKEN@]vault.example.com:8200/secret/ceremony?tls=true
//   - memory://name
//
// # Redundancy
//
// MultiStore writes to every available backend and reads from the first
// backend holding the key. A key missing from every backend is reported as
// interfaces.ErrKeyNotFound so callers can tell "never saved" from "store down".
//
// Usage example:
//
//	factory := storage.NewStoreFactory(logger)
//	store, err := factory.CreateMultiStore([]string{
//	    "file:///var/lib/ceremony/",
//	    "s3://backup-bucket/ceremony/?region=us-west-2",
//	})
//	if err != nil {
//	    return err
//	}
//	err = store.Put(ctx, interfaces.ElectionKey, electionJSON)
package storage
