package podcast

import (
	"fmt"
	"time"
)

// ParseReleaseDate normalizes Spotify's variable-precision release_date to
// UTC midnight (spec.md §9: explicit parsing per precision, no permissive
// date parser that would silently accept malformed input).
func ParseReleaseDate(releaseDate, precision string) (time.Time, error) {
	switch precision {
	case "year":
		return time.Parse("2006", releaseDate)
	case "month":
		return time.Parse("2006-01", releaseDate)
	case "day", "":
		return time.Parse("2006-01-02", releaseDate)
	default:
		return time.Time{}, fmt.Errorf("unknown release_date_precision %q", precision)
	}
}
