package debug

import (
	"slices"
	"time"

	"github.com/c360/rulecore/message"
)

// Strategy is the effective debug mode of a rule node at a point in time
type Strategy int

const (
	StrategyDisabled Strategy = iota
	StrategyOnlyFailureEvents
	StrategyAllEvents
)

func (s Strategy) String() string {
	switch s {
	case StrategyOnlyFailureEvents:
		return "ONLY_FAILURE_EVENTS"
	case StrategyAllEvents:
		return "ALL_EVENTS"
	default:
		return "DISABLED"
	}
}

// Settings is the debug configuration stored on a rule node.
// AllEnabled turns on full debug for at most the max debug duration after
// UpdatedAt; AllEnabledUntil extends it to a fixed time instead.
type Settings struct {
	FailuresEnabled bool  `json:"failuresEnabled" yaml:"failures_enabled"`
	AllEnabled      bool  `json:"allEnabled"      yaml:"all_enabled"`
	AllEnabledUntil int64 `json:"allEnabledUntil" yaml:"all_enabled_until"`
	UpdatedAt       int64 `json:"updatedAt"       yaml:"updated_at"`
}

// FailuresOnly returns settings that persist failure events
func FailuresOnly() Settings {
	return Settings{FailuresEnabled: true}
}

// AllUntil returns settings that persist everything until t
func AllUntil(t time.Time) Settings {
	return Settings{FailuresEnabled: true, AllEnabledUntil: t.UnixMilli()}
}

// Strategy resolves the mode at now. Full debug that has run longer than
// maxDuration degrades to failures only. A maxDuration of zero leaves
// AllEnabled unbounded.
func (s Settings) Strategy(now time.Time, maxDuration time.Duration) Strategy {
	nowMs := now.UnixMilli()
	if s.AllEnabledUntil > nowMs {
		return StrategyAllEvents
	}
	if s.AllEnabled {
		if maxDuration <= 0 || s.UpdatedAt+maxDuration.Milliseconds() > nowMs {
			return StrategyAllEvents
		}
		return StrategyOnlyFailureEvents
	}
	if s.AllEnabledUntil > 0 || s.FailuresEnabled {
		return StrategyOnlyFailureEvents
	}
	return StrategyDisabled
}

// ShouldPersist reports whether an event routed over relationTypes is
// recorded at now
func (s Settings) ShouldPersist(relationTypes []string, now time.Time, maxDuration time.Duration) bool {
	switch s.Strategy(now, maxDuration) {
	case StrategyAllEvents:
		return true
	case StrategyOnlyFailureEvents:
		return slices.Contains(relationTypes, message.RelationFailure)
	default:
		return false
	}
}
