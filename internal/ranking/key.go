package ranking

import (
	"fmt"
	"strings"
	"time"
)

// Window is the time granularity of a ranking.
type Window string

const (
	WindowDaily   Window = "DAILY"
	WindowHourly  Window = "HOURLY"
	WindowWeekly  Window = "WEEKLY"
	WindowMonthly Window = "MONTHLY"
)

// DefaultScope is the ranking namespace for the whole catalog. Per-category
// scopes reuse the same key scheme.
const DefaultScope = "product"

// ParseWindow converts user input to a Window.
func ParseWindow(s string) (Window, error) {
	switch Window(strings.ToUpper(s)) {
	case WindowDaily:
		return WindowDaily, nil
	case WindowHourly:
		return WindowHourly, nil
	case WindowWeekly:
		return WindowWeekly, nil
	case WindowMonthly:
		return WindowMonthly, nil
	}
	return "", fmt.Errorf("invalid ranking window %q", s)
}

// Live reports whether the window is served from the live score store.
// WEEKLY and MONTHLY are served exclusively from durable rollup tables.
func (w Window) Live() bool {
	return w == WindowDaily || w == WindowHourly
}

// TTL is the expiry applied to a live bucket of this window.
func (w Window) TTL() time.Duration {
	switch w {
	case WindowHourly:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// Key identifies one ranking bucket: a scope, a window and the instant the
// bucket covers.
type Key struct {
	Scope  string
	Window Window
	At     time.Time
}

func NewKey(scope string, window Window, at time.Time) Key {
	return Key{Scope: scope, Window: window, At: at}
}

// Bucket returns the timestamp bucket fragment: yyyyMMdd for DAILY,
// yyyyMMddHH for HOURLY. Weekly/monthly keys have no live bucket.
func (k Key) Bucket() string {
	switch k.Window {
	case WindowHourly:
		return k.At.Format("2006010215")
	default:
		return k.At.Format("20060102")
	}
}

// StoreKey resolves the key to its live-store identifier, in the stable
// external format "ranking:<scope>:<window>:<bucket>". It fails for
// WEEKLY/MONTHLY, which must never touch the live store.
func (k Key) StoreKey() (string, error) {
	if !k.Window.Live() {
		return "", fmt.Errorf("window %s has no live-store bucket", k.Window)
	}
	return fmt.Sprintf("ranking:%s:%s:%s", k.Scope, strings.ToLower(string(k.Window)), k.Bucket()), nil
}

// Next returns the key for the bucket immediately after this one.
func (k Key) Next() Key {
	switch k.Window {
	case WindowHourly:
		return Key{Scope: k.Scope, Window: k.Window, At: k.At.Add(time.Hour)}
	default:
		return Key{Scope: k.Scope, Window: k.Window, At: k.At.AddDate(0, 0, 1)}
	}
}

// Period resolves a WEEKLY/MONTHLY key to its durable-table partition string:
// "yyyyWww" (ISO week) for WEEKLY, "yyyyMM" for MONTHLY.
func (k Key) Period() (string, error) {
	switch k.Window {
	case WindowWeekly:
		year, week := k.At.ISOWeek()
		return fmt.Sprintf("%04dW%02d", year, week), nil
	case WindowMonthly:
		return k.At.Format("200601"), nil
	}
	return "", fmt.Errorf("window %s has no rollup period", k.Window)
}

// Ranking is a read-only projection of one bucket entry at query time.
// Rank is 1-based, assigned by descending score.
type Ranking struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}
