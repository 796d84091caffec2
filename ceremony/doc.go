// Package ceremony holds the in-memory state of one key ceremony: the two
// participant registries and the session that owns them.
//
// # Registry
//
// A Registry is the roster of one cohort. Its id set is fixed at creation to
// the indices 0..count-1 and every entry starts Incomplete. Claim marks an
// entry Complete exactly once; repeated claims are no-ops and ids outside the
// roster fail with interfaces.ErrUnknownParticipant.
//
// # Session
//
// A Session holds the ceremony parameters and the ElectionGuard configuration.
// CreateElection calls the creation service once, validates the returned key
// material and swaps in fully populated registries under a single lock, so no
// partially seeded roster is ever observable. A failed creation leaves the
// session untouched and may be retried; a second call issued while one is
// outstanding is rejected with interfaces.ErrCeremonyCreationInProgress.
//
// Sessions are process-local and are discarded on reset. Only the election
// and its configuration outlive them, through the ApplicationState.
package ceremony
