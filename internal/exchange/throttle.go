package exchange

import (
	"time"

	"github.com/xtrntr/resourceswap/internal/models"
)

// checkThrottle rejects a throttled action. Lock takes precedence over cooldown.
func (e *Exchange) checkThrottle(a models.Account, now time.Time) error {
	t := e.throttles[a]
	if t.Locked(now) {
		return models.Fail(models.KindUserLocked, "%s locked for %s", a, t.LockRemaining(now))
	}
	if t.CooldownActive(now, e.policy.Cooldown) {
		return models.Fail(models.KindCooldownActive, "cooldown not finished for %s, %s remaining", a, t.CooldownRemaining(now, e.policy.Cooldown))
	}
	return nil
}

// afterAction computes the throttle state of a following a successful action.
// It does not mutate; the value travels in the event.
func (e *Exchange) afterAction(a models.Account, now time.Time, lock bool) *models.Throttle {
	t := e.throttles[a]
	t.LastActionAt = now
	if lock {
		t.LockedUntil = now.Add(e.policy.LockDuration)
	}
	return &t
}
