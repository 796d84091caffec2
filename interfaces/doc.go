// Package interfaces defines the core types and collaborator contracts of the
// election ceremony console, separating interface definitions from
// implementations.
//
// # Ceremony Types
//
//   - Cohort: trustees (receive threshold key shares on smartcards) and
//     encrypters (receive encryption artifacts on removable drives)
//   - ParticipantID: opaque per-cohort identifier, the decimal index 0..count-1
//   - Participant: id, payload and completion status of one ceremony member
//   - CeremonyParameters: trustee count, decryption threshold, encrypter count
//
// # Collaborator Interfaces
//
// CeremonyCreationService: generates the ElectionGuard configuration and the
// trustee key material for an election draft.
//
// ApplicationState: receives the election map and ElectionGuard configuration
// once the ceremony has been created, and the readiness signal at the end.
//
// DeviceMediator: writes participant payloads onto a physical token.
//
// KVStore: persistence for the completed election and its configuration.
//
// # Errors
//
// All failures surfaced by the ceremony are wrapped around the sentinel errors
// declared in errors.go and should be checked with errors.Is.
package interfaces
