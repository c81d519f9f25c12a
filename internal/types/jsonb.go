package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure all JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*PlatformUsage)(nil)
	_ driver.Valuer = PlatformUsage(nil)
	_ sql.Scanner   = (*PlanLimits)(nil)
	_ driver.Valuer = PlanLimits{}
)

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (pu *PlatformUsage) Scan(value interface{}) error {
	if value == nil {
		*pu = nil
		return nil
	}
	return scanJSONB(pu, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// A nil map is stored as an empty object so that reads never see SQL NULL.
func (pu PlatformUsage) Value() (driver.Value, error) {
	if pu == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(pu)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
// The Limit fields decode -1 as unlimited via Limit.UnmarshalJSON.
func (pl *PlanLimits) Scan(value interface{}) error {
	return scanJSONB(pl, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (pl PlanLimits) Value() (driver.Value, error) {
	return json.Marshal(pl)
}
