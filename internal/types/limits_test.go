package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimit_Allows(t *testing.T) {
	tests := []struct {
		name    string
		limit   Limit
		current int
		count   int
		want    bool
	}{
		{"under ceiling", Finite(5), 3, 1, true},
		{"exactly at ceiling", Finite(5), 4, 1, true},
		{"over ceiling", Finite(5), 5, 1, false},
		{"zero ceiling denies", Finite(0), 0, 1, false},
		{"unlimited always allows", Unlimited, 10_000_000, 10_000_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.limit.Allows(tt.current, tt.count))
		})
	}
}

func TestLimit_PercentUsed(t *testing.T) {
	pct, ok := Finite(200).PercentUsed(160)
	require.True(t, ok)
	assert.InDelta(t, 80.0, pct, 0.001)

	_, ok = Unlimited.PercentUsed(160)
	assert.False(t, ok, "unlimited has no meaningful percentage")

	_, ok = Finite(0).PercentUsed(0)
	assert.False(t, ok, "zero ceiling has no meaningful percentage")
}

func TestLimit_JSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(Unlimited)
	require.NoError(t, err)
	assert.Equal(t, "-1", string(b))

	b, err = json.Marshal(Finite(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))

	var l Limit
	require.NoError(t, json.Unmarshal([]byte("-1"), &l))
	assert.True(t, l.IsUnlimited())

	require.NoError(t, json.Unmarshal([]byte("42"), &l))
	n, finite := l.Ceiling()
	require.True(t, finite)
	assert.Equal(t, 42, n)
}

func TestPlanLimits_JSONUsesNegativeOneSentinel(t *testing.T) {
	pl := PlanLimits{
		APICallsPerDay:  Unlimited,
		AnalysesPerDay:  Finite(5),
		ReportsPerMonth: Finite(0),
	}
	b, err := json.Marshal(pl)
	require.NoError(t, err)

	var decoded PlanLimits
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, decoded.APICallsPerDay.IsUnlimited())

	n, finite := decoded.AnalysesPerDay.Ceiling()
	require.True(t, finite)
	assert.Equal(t, 5, n)
}
