package goLink

import "time"

// passwordAttempts tracks failed second-factor submissions per owner. The
// record persists across password-challenge retries so repeated wrong
// passwords accumulate toward lockout; only a fresh code phase resets it.
type passwordAttempts struct {
	attempts      int
	cooldownUntil time.Time
}

// floodCooldown records a platform-mandated wait per owner.
type floodCooldown struct {
	cooldownUntil time.Time
	waitSeconds   int
}

// ownerCooldownLocked reports the longest active cooldown for an owner, covering
// both password lockouts and platform flood waits. Called with e.mu held.
func (e *Engine) ownerCooldownLocked(owner OwnerID, now time.Time) (time.Duration, bool) {
	var remaining time.Duration
	if rec, ok := e.passwordState[owner]; ok && rec.cooldownUntil.After(now) {
		remaining = rec.cooldownUntil.Sub(now)
	}
	if fc, ok := e.floodState[owner]; ok && fc.cooldownUntil.After(now) {
		if d := fc.cooldownUntil.Sub(now); d > remaining {
			remaining = d
		}
	}
	return remaining, remaining > 0
}

// recordFloodWaitLocked stores a flood cooldown for the owner. Called with
// e.mu held.
func (e *Engine) recordFloodWaitLocked(owner OwnerID, wait time.Duration, now time.Time) {
	e.floodState[owner] = &floodCooldown{
		cooldownUntil: now.Add(wait),
		waitSeconds:   int(wait / time.Second),
	}
}

// recordPasswordFailureLocked increments the owner's attempt counter and arms the
// lockout cooldown at the limit. Returns the attempts remaining. Called with
// e.mu held.
func (e *Engine) recordPasswordFailureLocked(owner OwnerID, now time.Time) int {
	rec, ok := e.passwordState[owner]
	if !ok {
		rec = &passwordAttempts{}
		e.passwordState[owner] = rec
	}
	rec.attempts++
	remaining := e.config.Password.MaxAttempts - rec.attempts
	if remaining <= 0 {
		remaining = 0
		rec.cooldownUntil = now.Add(e.config.Password.LockoutCooldown)
		rec.attempts = 0
	}
	return remaining
}

// resetPasswordAttemptsLocked clears the owner's attempt counter. Invoked when a
// new code phase starts and on successful sign-in. Called with e.mu held.
func (e *Engine) resetPasswordAttemptsLocked(owner OwnerID) {
	delete(e.passwordState, owner)
}
