// Package goLink manages end-user-owned accounts on a remote messaging
// platform: multi-step login (code, second-factor password, QR token),
// on-demand session connection with per-account locking and bounded retry,
// and automatic recovery from session revocation and platform rate limits.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goLink is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialStore] and [ClientFactory] integration interfaces, and value
// types (AccountInfo, LinkResult, WebLoginInfo, MetricsSnapshot). Pending
// login state, connect locks, cooldown tracking, and audit dispatch are
// internal and never exported.
//
// # What this package must NOT do
//
//   - Speak the remote platform's wire protocol. The opaque [Client] handle
//     supplied by the caller's [ClientFactory] owns connect, sign-in, and
//     session serialization.
//   - Return raw platform error text across the Engine boundary. Errors are
//     classified and mapped onto the exported sentinel set; only wait-seconds
//     and remaining-attempt counts pass through.
//   - Log session tokens or unmasked phone numbers.
//
// # Concurrency contract
//
// Operations on different accounts interleave freely. Connect attempts for
// the same account are serialized by a per-account lock: N concurrent
// EnsureConnected calls perform exactly one underlying Connect. Pending login
// state for one owner is logically sequential; duplicate InitiateLink calls
// inside the guard window are rejected, not queued.
package goLink
