package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/params"
)

type memParams struct {
	vals map[string]float64
}

func (m *memParams) Float(_ context.Context, name string) (float64, error) {
	v, ok := m.vals[name]
	if !ok {
		return 0, params.ErrNotFound
	}
	return v, nil
}

func (m *memParams) SetFloat(_ context.Context, name string, value float64) error {
	if m.vals == nil {
		m.vals = make(map[string]float64)
	}
	m.vals[name] = value
	return nil
}

func TestDeriveTarget(t *testing.T) {
	premium := Premium(50, 120, 118)
	require.InDelta(t, 11900, premium, 1e-9)

	tests := []struct {
		name     string
		fraction float64
		absolute float64
		want     float64
	}{
		{"fraction of premium when no absolute", 0.35, -1, 4165},
		{"absolute wins over default fraction", 0.35, 3000, 3000},
		{"minimum when both provided", 0.25, 5000, 2975},
		{"absolute kept when it is the tighter bound", 0.5, 1000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DeriveTarget(premium, tt.fraction, tt.absolute), 1e-9)
		})
	}
}

func TestBoundsWithLiveOverride(t *testing.T) {
	ctx := context.Background()
	store := &memParams{}
	m := New(store, 4165, DefaultLossFactor)
	require.NoError(t, m.Publish(ctx))

	target, loss := m.Bounds(ctx)
	assert.InDelta(t, 4165, target, 1e-9)
	assert.InDelta(t, -5539.45, loss, 1e-9)

	require.NoError(t, store.SetFloat(ctx, ParamTargetMTM, 3000))
	target, loss = m.Bounds(ctx)
	assert.InDelta(t, 3000, target, 1e-9)
	// loss bound stays pinned to the startup target
	assert.InDelta(t, -5539.45, loss, 1e-9)
}

func TestBoundsWithoutParamSource(t *testing.T) {
	m := New(nil, 4165, 0)
	target, loss := m.Bounds(context.Background())
	assert.InDelta(t, 4165, target, 1e-9)
	assert.InDelta(t, -4165*DefaultLossFactor, loss, 1e-9)
}

func TestBreached(t *testing.T) {
	assert.False(t, Breached(4165, 4165, -5539.45)) // at target, not past it
	assert.True(t, Breached(4200, 4165, -5539.45))
	assert.True(t, Breached(-5539.45, 4165, -5539.45)) // loss bound inclusive
	assert.False(t, Breached(0, 4165, -5539.45))
}
