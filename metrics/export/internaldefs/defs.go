package internaldefs

import (
	goLink "github.com/MrEthical07/goLink"
)

// CounterDef defines a public type used by goLink APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   goLink.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the link engine.
var CounterDefs = []CounterDef{
	{ID: goLink.MetricLinkStarted, Name: "golink_link_started_total", Help: "Started link challenges."},
	{ID: goLink.MetricLinkSucceeded, Name: "golink_link_succeeded_total", Help: "Completed account links."},
	{ID: goLink.MetricLinkFailed, Name: "golink_link_failed_total", Help: "Failed link attempts."},
	{ID: goLink.MetricLinkDuplicate, Name: "golink_link_duplicate_total", Help: "Link requests rejected by the duplicate guard."},
	{ID: goLink.MetricCodeRejected, Name: "golink_code_rejected_total", Help: "Login codes rejected by the platform."},
	{ID: goLink.MetricCodeExpired, Name: "golink_code_expired_total", Help: "Login codes that expired before submission."},
	{ID: goLink.MetricPasswordRequired, Name: "golink_password_required_total", Help: "Link flows that required a cloud password."},
	{ID: goLink.MetricPasswordRejected, Name: "golink_password_rejected_total", Help: "Rejected cloud password attempts."},
	{ID: goLink.MetricPasswordLockout, Name: "golink_password_lockout_total", Help: "Password challenges invalidated by the attempt cap."},
	{ID: goLink.MetricFloodCooldown, Name: "golink_flood_cooldown_total", Help: "Operations deferred by platform flood waits."},
	{ID: goLink.MetricWebLoginStarted, Name: "golink_web_login_started_total", Help: "Started token login flows."},
	{ID: goLink.MetricWebLoginAuthorized, Name: "golink_web_login_authorized_total", Help: "Token login flows confirmed by the user."},
	{ID: goLink.MetricWebLoginExpired, Name: "golink_web_login_expired_total", Help: "Token login flows that expired unscanned."},
	{ID: goLink.MetricWebLoginCancelled, Name: "golink_web_login_cancelled_total", Help: "Token login flows cancelled by the caller."},
	{ID: goLink.MetricWebLoginTicks, Name: "golink_web_login_ticks_total", Help: "Token login poll iterations."},
	{ID: goLink.MetricConnectSuccess, Name: "golink_connect_success_total", Help: "Successful account connections."},
	{ID: goLink.MetricConnectRetry, Name: "golink_connect_retry_total", Help: "Connection attempts that were retried."},
	{ID: goLink.MetricConnectFailure, Name: "golink_connect_failure_total", Help: "Connection attempts exhausted without success."},
	{ID: goLink.MetricConnectFastPath, Name: "golink_connect_fast_path_total", Help: "Connect calls satisfied by a live client."},
	{ID: goLink.MetricConnectCoalesced, Name: "golink_connect_coalesced_total", Help: "Connect calls coalesced onto an in-flight dial."},
	{ID: goLink.MetricSessionRevoked, Name: "golink_session_revoked_total", Help: "Sessions detected as revoked by the platform."},
	{ID: goLink.MetricProtectedViolation, Name: "golink_protected_violation_total", Help: "Operations refused on the protected account."},
	{ID: goLink.MetricOwnershipTransfer, Name: "golink_ownership_transfer_total", Help: "Accounts transferred between owners."},
	{ID: goLink.MetricActiveSwitched, Name: "golink_active_switched_total", Help: "Active account switches."},
	{ID: goLink.MetricAccountDeleted, Name: "golink_account_deleted_total", Help: "Account delete operations."},
	{ID: goLink.MetricPendingEvicted, Name: "golink_pending_evicted_total", Help: "Stale pending challenges evicted."},
	{ID: goLink.MetricPostLinkFailed, Name: "golink_post_link_failed_total", Help: "Post-link hook executions that failed."},
}
