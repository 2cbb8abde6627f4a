package domain

import (
	"encoding/json"
	"time"
)

// TimeLayout renders timestamps in UTC with exactly three fractional digits,
// e.g. 2024-01-02T03:04:05.120Z.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime formats t with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Now returns the timestamp used for created/updated stamps. Millisecond
// precision keeps stored values identical across JSON round trips.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (a Admin) MarshalJSON() ([]byte, error) {
	type plain Admin
	return json.Marshal(struct {
		plain
		CreatedAt string `json:"created_at"`
	}{
		plain:     plain(a),
		CreatedAt: FormatTime(a.CreatedAt),
	})
}

func (d Disease) MarshalJSON() ([]byte, error) {
	type plain Disease
	return json.Marshal(struct {
		plain
		CreatedAt string `json:"created_at"`
		UpdatedAt string `json:"updated_at"`
	}{
		plain:     plain(d),
		CreatedAt: FormatTime(d.CreatedAt),
		UpdatedAt: FormatTime(d.UpdatedAt),
	})
}
