package types

import (
	"encoding/json"
	"fmt"
)

// Limit is a quota ceiling that is either a finite non-negative count or
// unlimited. It replaces the legacy "-1 means unlimited" convention with an
// explicit sum type so that unlimited values can never be compared or divided
// as numbers by accident. On the JSON wire, unlimited still serializes as -1
// for compatibility with existing dashboard clients.
type Limit struct {
	n         int
	unlimited bool
}

// Finite returns a Limit with the given ceiling. Negative values are clamped
// to zero; use Unlimited for "no ceiling".
func Finite(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// Unlimited is the Limit with no ceiling.
var Unlimited = Limit{unlimited: true}

// IsUnlimited reports whether the limit has no ceiling.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Ceiling returns the finite ceiling and true, or (0, false) when unlimited.
func (l Limit) Ceiling() (int, bool) {
	if l.unlimited {
		return 0, false
	}
	return l.n, true
}

// Allows reports whether consuming count more units on top of current stays
// within the limit. Unlimited always allows.
func (l Limit) Allows(current, count int) bool {
	if l.unlimited {
		return true
	}
	return current+count <= l.n
}

// PercentUsed returns current/ceiling*100, or (0, false) when unlimited or
// when the ceiling is zero (a zero ceiling has no meaningful percentage).
func (l Limit) PercentUsed(current int) (float64, bool) {
	if l.unlimited || l.n == 0 {
		return 0, false
	}
	return float64(current) / float64(l.n) * 100, true
}

// String implements fmt.Stringer for log output.
func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.n)
}

// MarshalJSON encodes unlimited as -1 and finite limits as their ceiling.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte("-1"), nil
	}
	return json.Marshal(l.n)
}

// UnmarshalJSON decodes -1 (or any negative value) as unlimited.
func (l *Limit) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	if n < 0 {
		*l = Unlimited
		return nil
	}
	*l = Finite(n)
	return nil
}
