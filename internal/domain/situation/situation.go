// Package situation models the situational context a decision is made in.
package situation

import "time"

// TimeOfDay buckets the local hour into four coarse periods.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// BucketHour maps a local hour (0-23) to its TimeOfDay.
func BucketHour(hour int) TimeOfDay {
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 17:
		return Afternoon
	case hour >= 17 && hour < 22:
		return Evening
	default:
		return Night
	}
}

// Context is a snapshot of the situation at decision time. It is built once
// per pipeline invocation and captured into pending confirmations.
type Context struct {
	UserID    string         `json:"user_id"`
	TimeOfDay TimeOfDay      `json:"time_of_day"`
	DayOfWeek string         `json:"day_of_week"`
	LocalHour int            `json:"local_hour"`
	Mode      string         `json:"mode,omitempty"`       // e.g. "normal", "sleep", "dnd"
	ActiveApp string         `json:"active_app,omitempty"` // foreground desktop app
	HomeState map[string]any `json:"home_state,omitempty"`
	Music     map[string]any `json:"music,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Build creates a Context for the given user at t, then shallow-merges the
// caller-supplied overrides on top of the defaults.
func Build(userID string, t time.Time, overrides map[string]any) Context {
	ctx := Context{
		UserID:    userID,
		TimeOfDay: BucketHour(t.Hour()),
		DayOfWeek: t.Weekday().String(),
		LocalHour: t.Hour(),
		Mode:      "normal",
	}

	for k, v := range overrides {
		switch k {
		case "mode":
			if s, ok := v.(string); ok {
				ctx.Mode = s
			}
		case "active_app":
			if s, ok := v.(string); ok {
				ctx.ActiveApp = s
			}
		case "home_state":
			if m, ok := v.(map[string]any); ok {
				ctx.HomeState = m
			}
		case "music":
			if m, ok := v.(map[string]any); ok {
				ctx.Music = m
			}
		default:
			if ctx.Extra == nil {
				ctx.Extra = make(map[string]any)
			}
			ctx.Extra[k] = v
		}
	}

	return ctx
}

// Bucket is the key used for approval-pattern learning: actions approved in
// similar situations should match each other.
func (c Context) Bucket() string {
	mode := c.Mode
	if mode == "" {
		mode = "normal"
	}
	app := c.ActiveApp
	if app == "" {
		app = "-"
	}
	return string(c.TimeOfDay) + "/" + mode + "/" + app
}

// Restrictive reports whether the current user mode should raise every
// non-trivial action by one confirmation tier.
func (c Context) Restrictive() bool {
	return c.Mode == "sleep" || c.Mode == "dnd"
}
