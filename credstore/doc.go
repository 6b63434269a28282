// Package credstore provides a Redis-backed reference implementation of the
// goLink CredentialStore interface.
//
// # Design
//
// Each linked account is a versioned, binary-encoded record keyed by account
// id, with a set holding the full id space for reloads. Account ids are
// allocated from a Redis counter. Field-level mutations (owner transfer,
// activation flips, session clearing) use WATCH/MULTI optimistic
// transactions with automatic retry on contention, so concurrent engine
// instances sharing one store do not lose writes. Pending code challenges
// are stored per owner with a TTL; they are a best-effort restart mirror,
// not a durability guarantee.
//
// # Architecture boundaries
//
// This package owns persistence only. It does NOT validate phone numbers,
// enforce the single-active-account invariant, or interpret session tokens.
// Those responsibilities belong to the engine; integrations with an existing
// database implement goLink.CredentialStore themselves instead of using this
// package.
package credstore
