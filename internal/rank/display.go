package rank

import (
	"fmt"
	"time"
)

// Label returns the human-readable name of the category.
func (t TimeOfDay) Label() string {
	switch t {
	case Dawn:
		return "Dawn"
	case Dusk:
		return "Dusk"
	case Day:
		return "Day"
	case DeepNight:
		return "Deep night"
	default:
		return string(t)
	}
}

// Symbol prefixes the label with its pictogram.
func (t TimeOfDay) Symbol() string {
	switch t {
	case Dawn:
		return "🌅 " + t.Label()
	case Dusk:
		return "🌇 " + t.Label()
	case Day:
		return "☀️ " + t.Label()
	case DeepNight:
		return "🌑 " + t.Label()
	default:
		return t.Label()
	}
}

func (v Visibility) Label() string {
	switch v {
	case Optimal:
		return "Optimal"
	case Low:
		return "Low"
	default:
		return string(v)
	}
}

func (v Visibility) Symbol() string {
	switch v {
	case Optimal:
		return "🟢 " + v.Label()
	case Low:
		return "🔴 " + v.Label()
	default:
		return v.Label()
	}
}

func (w Weather) Label() string {
	switch w {
	case Clear:
		return "Clear"
	case PartlyCloudy:
		return "Partly cloudy"
	case Overcast:
		return "Overcast"
	case Rainy:
		return "Rainy"
	default:
		return string(w)
	}
}

func (w Weather) Symbol() string {
	switch w {
	case Clear:
		return "✨ " + w.Label()
	case PartlyCloudy:
		return "☁️ " + w.Label()
	case Overcast:
		return "🌫️ " + w.Label()
	case Rainy:
		return "🌧️ " + w.Label()
	default:
		return w.Label()
	}
}

func (s TimeSlot) Label() string {
	switch s {
	case SlotAny:
		return "Any"
	case SlotDawn:
		return "Dawn"
	case SlotDusk:
		return "Dusk"
	case SlotLowVisibility:
		return "Low visibility (day/night)"
	default:
		return string(s)
	}
}

// FormatDuration renders seconds as mm:ss. Minutes are not wrapped at an hour.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatRise renders a rise time the way the tables show it.
func FormatRise(t time.Time) string {
	return t.Format("02 Jan 06, 15:04:05")
}

// Tier groups ranks for display.
type Tier string

const (
	TierTop10  Tier = "top10"
	TierNext10 Tier = "next10"
	TierMore   Tier = "more"
)

// TierOf places a 1-based rank in its display tier.
func TierOf(rank int) Tier {
	switch {
	case rank <= 10:
		return TierTop10
	case rank <= 20:
		return TierNext10
	default:
		return TierMore
	}
}

func (t Tier) Label() string {
	switch t {
	case TierTop10:
		return "Top 10 (ranks 1 to 10)"
	case TierNext10:
		return "Next 10 (ranks 11 to 20)"
	default:
		return "Further passes (rank 21+)"
	}
}
