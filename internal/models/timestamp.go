package models

import (
	"fmt"
	"strings"
	"time"
)

// Broker timestamps use the legacy vumi format rather than RFC 3339. Some
// producers omit the microsecond part, so parsing accepts both shapes.
const (
	brokerTimeLayout        = "2006-01-02 15:04:05.000000"
	brokerTimeLayoutNoMicro = "2006-01-02 15:04:05"
)

// Timestamp is a UTC wall-clock time serialized in the broker wire format.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC time as a Timestamp.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// At wraps an existing time, normalized to UTC.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(brokerTimeLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		t.Time = time.Time{}
		return nil
	}
	layout := brokerTimeLayout
	if !strings.Contains(raw, ".") {
		layout = brokerTimeLayoutNoMicro
	}
	parsed, err := time.Parse(layout, raw)
	if err != nil {
		return fmt.Errorf("models: invalid timestamp %q: %w", raw, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// Equal compares timestamps at microsecond precision, the resolution the wire
// format can represent.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.UTC().Truncate(time.Microsecond).Equal(other.UTC().Truncate(time.Microsecond))
}
