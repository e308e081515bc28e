package rank

import "time"

// Classify derives the time-of-day category and satellite visibility from the
// hour of t, as read in t's own location. The satellite only stands out when
// it is still sunlit while the ground is dark, which happens around dawn and
// dusk; at midday the sky is too bright and deep in the night the satellite
// is usually in Earth's shadow.
func Classify(t time.Time) (TimeOfDay, Visibility) {
	switch h := t.Hour(); {
	case h >= 5 && h <= 7:
		return Dawn, Optimal
	case h >= 19 && h <= 21:
		return Dusk, Optimal
	case h >= 8 && h <= 18:
		return Day, Low
	default:
		return DeepNight, Low
	}
}
