package risk

import (
	"context"

	"github.com/yanun0323/logs"
)

// ParamTargetMTM is the parameter-store key carrying the live
// adjustable profit target.
const ParamTargetMTM = "target_mtm"

// DefaultTargetFraction is the share of collected premium taken as
// profit target when no absolute target is given.
const DefaultTargetFraction = 0.35

// DefaultLossFactor scales the profit target into the loss bound.
const DefaultLossFactor = 1.33

// ParamSource is the live-adjustable parameter collaborator.
// *params.Store satisfies it.
type ParamSource interface {
	Float(ctx context.Context, name string) (float64, error)
	SetFloat(ctx context.Context, name string, value float64) error
}

// Premium is the total credit collected selling qty of each entry.
func Premium(qty int, entries ...float64) float64 {
	sum := 0.0
	for _, e := range entries {
		sum += e
	}
	return float64(qty) * sum
}

// DeriveTarget resolves the profit target from the collected premium,
// the target fraction and an optional absolute override. A negative
// absolute means "not provided". When both the absolute and a
// non-default fraction are given, the tighter of the two wins.
func DeriveTarget(premium, fraction, absolute float64) float64 {
	switch {
	case absolute < 0:
		return premium * fraction
	case fraction != DefaultTargetFraction:
		return min(premium*fraction, absolute)
	default:
		return absolute
	}
}

// Monitor evaluates aggregate PnL against profit and loss bounds. The
// loss bound is fixed at startup; the profit target can be adjusted at
// runtime through the parameter store and is re-read every cycle.
type Monitor struct {
	params     ParamSource
	target     float64
	lossFactor float64
}

// New creates a monitor around the startup-derived target. params may
// be nil, leaving the target fixed.
func New(params ParamSource, target, lossFactor float64) *Monitor {
	if lossFactor <= 0 {
		lossFactor = DefaultLossFactor
	}
	return &Monitor{params: params, target: target, lossFactor: lossFactor}
}

// Publish seeds the parameter store with the startup target so
// external adjusters see the effective value.
func (m *Monitor) Publish(ctx context.Context) error {
	if m.params == nil {
		return nil
	}
	return m.params.SetFloat(ctx, ParamTargetMTM, m.target)
}

// Bounds returns the current profit target and loss bound. The target
// reflects any live override; the loss bound always derives from the
// startup target so a raised target cannot widen the acceptable loss.
func (m *Monitor) Bounds(ctx context.Context) (target, loss float64) {
	target = m.target
	if m.params != nil {
		v, err := m.params.Float(ctx, ParamTargetMTM)
		if err == nil {
			target = v
		} else {
			logs.Debugf("target override unavailable, using %.2f: %v", m.target, err)
		}
	}
	return target, -m.lossFactor * m.target
}

// Breached reports whether total PnL crossed either bound.
func Breached(total, target, loss float64) bool {
	return total > target || total <= loss
}
