package cooldown

import (
	"strconv"
	"sync/atomic"
	"time"

	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

// NoAutomaticReset is reported by TimeUntilReset for trades that only reset on an explicit restock.
// It is distinct from 0, which means "ready now".
const NoAutomaticReset time.Duration = -1

var skewLogged atomic.Bool

// Elapsed returns now-anchor in seconds, clamped to zero when the clock moved backwards.
func Elapsed(anchor int64, now time.Time) int64 {
	elapsed := now.Unix() - anchor
	if elapsed < 0 {
		if skewLogged.CompareAndSwap(false, true) {
			log.WithFields(log.Fields{
				"anchor": anchor,
				"now":    now.Unix(),
			}).Warn("clock moved backwards; clamping elapsed cooldown time to zero")
		}
		return 0
	}
	return elapsed
}

// window is the rolling window of a record. The record snapshot wins over the catalog value.
func window(def *types.TradeDefinition, c types.Counter) int64 {
	if c.WindowSeconds > 0 {
		return c.WindowSeconds
	}
	if def != nil && def.CooldownSeconds > 0 {
		return def.CooldownSeconds
	}
	return types.DefaultCooldownSeconds
}

func mode(def *types.TradeDefinition) types.CooldownMode {
	if def == nil {
		return types.CooldownRolling
	}
	return def.CooldownMode
}

// Expired reports whether the record's window has elapsed at now.
// A nil definition (trade removed from the catalog) is treated as rolling over the record's own window.
func Expired(def *types.TradeDefinition, c types.Counter, now time.Time) bool {
	switch mode(def) {
	case types.CooldownDaily, types.CooldownWeekly:
		return c.Anchor < PreviousReset(def, now).Unix()
	case types.CooldownNone:
		return false
	default:
		return Elapsed(c.Anchor, now) >= window(def, c)
	}
}

// TimeUntilReset is the time left until the record's window resets, 0 when it already has,
// NoAutomaticReset in none mode.
func TimeUntilReset(def *types.TradeDefinition, c types.Counter, now time.Time) time.Duration {
	switch mode(def) {
	case types.CooldownDaily, types.CooldownWeekly:
		return max(0, NextReset(def, now).Sub(now.Truncate(time.Second)))
	case types.CooldownNone:
		return NoAutomaticReset
	default:
		left := window(def, c) - Elapsed(c.Anchor, now)
		return time.Duration(max(0, left)) * time.Second
	}
}

// PreviousReset is the most recent reset instant at or before now.
func PreviousReset(def *types.TradeDefinition, now time.Time) time.Time {
	hour, minute, day := def.ResetClock()
	y, m, d := now.Date()
	candidate := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if def.CooldownMode == types.CooldownWeekly {
		back := (int(now.Weekday()) - int(day) + 7) % 7
		candidate = time.Date(y, m, d-back, hour, minute, 0, 0, now.Location())
		if candidate.After(now) {
			candidate = time.Date(y, m, d-back-7, hour, minute, 0, 0, now.Location())
		}
		return candidate
	}
	if candidate.After(now) {
		candidate = time.Date(y, m, d-1, hour, minute, 0, 0, now.Location())
	}
	return candidate
}

// NextReset is the first reset instant strictly after now.
func NextReset(def *types.TradeDefinition, now time.Time) time.Time {
	hour, minute, day := def.ResetClock()
	y, m, d := now.Date()
	candidate := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if def.CooldownMode == types.CooldownWeekly {
		ahead := (int(day) - int(now.Weekday()) + 7) % 7
		candidate = time.Date(y, m, d+ahead, hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = time.Date(y, m, d+ahead+7, hour, minute, 0, 0, now.Location())
		}
		return candidate
	}
	if !candidate.After(now) {
		candidate = time.Date(y, m, d+1, hour, minute, 0, 0, now.Location())
	}
	return candidate
}

// Reset restarts the window in place: no uses, anchored at now.
func Reset(c *types.Counter, now time.Time) {
	c.Used = 0
	c.Anchor = now.Unix()
}

// Remaining is quota minus uses, never negative, ignoring expiry.
func Remaining(quota int, c types.Counter) int {
	return max(0, quota-c.Used)
}

// FormatDuration renders a time-until-reset for humans.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "Never"
	}
	seconds := int64(d / time.Second)
	switch {
	case seconds < 60:
		return itoa(seconds) + "s"
	case seconds < 3600:
		return itoa(seconds/60) + "m " + itoa(seconds%60) + "s"
	case seconds < 86400:
		return itoa(seconds/3600) + "h " + itoa((seconds%3600)/60) + "m"
	default:
		return itoa(seconds/86400) + "d " + itoa((seconds%86400)/3600) + "h"
	}
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }
