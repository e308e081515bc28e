package rank

import (
	"fmt"
	"strings"
)

// TimeOfDay is the coarse sky category of a pass rise time.
type TimeOfDay string

const (
	Dawn      TimeOfDay = "dawn"
	Dusk      TimeOfDay = "dusk"
	Day       TimeOfDay = "day"
	DeepNight TimeOfDay = "deep_night"
)

// Visibility estimates whether the satellite is sunlit against a dark sky.
type Visibility string

const (
	Optimal Visibility = "optimal"
	Low     Visibility = "low"
)

// Weather is a simulated sky condition.
type Weather string

const (
	Clear        Weather = "clear"
	PartlyCloudy Weather = "partly_cloudy"
	Overcast     Weather = "overcast"
	Rainy        Weather = "rainy"
)

// Observable reports whether the sky condition allows naked-eye viewing.
func (w Weather) Observable() bool {
	return w == Clear || w == PartlyCloudy
}

// TimeSlot is the observer's preferred time-of-day filter.
type TimeSlot string

const (
	SlotAny           TimeSlot = "any"
	SlotDawn          TimeSlot = "dawn"
	SlotDusk          TimeSlot = "dusk"
	SlotLowVisibility TimeSlot = "low_visibility"
)

// ParseTimeSlot accepts the slot names case-insensitively, with "-", "_" or
// a space between words. An empty string means SlotAny.
func ParseTimeSlot(s string) (TimeSlot, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch TimeSlot(norm) {
	case "", SlotAny, "all":
		return SlotAny, nil
	case SlotDawn, SlotDusk, SlotLowVisibility:
		return TimeSlot(norm), nil
	default:
		return "", fmt.Errorf("unknown time slot %q (want any, dawn, dusk or low-visibility)", s)
	}
}

// Matches reports whether a pass in category t satisfies the slot.
func (s TimeSlot) Matches(t TimeOfDay) bool {
	switch s {
	case SlotAny:
		return true
	case SlotLowVisibility:
		return t == Day || t == DeepNight
	default:
		return string(s) == string(t)
	}
}
