// Package flow drives a key ceremony through its stages:
//
//	SetupTrustees -> KeyDistribution -> SetupEncrypters -> EncrypterDistribution -> Ready
//
// The Controller owns the ceremony.Session and serialises every mutation
// behind a single mutex. Device events are checked against a per-cohort
// Sequencer that enforces insert, write-confirm, claim, require-removal for one
// participant at a time. Ready is terminal.
package flow
