package video

import (
	"strconv"
	"strings"
)

// ParseISO8601Duration parses the subset of ISO 8601 durations the YouTube
// Data API returns for ContentDetails.Duration (e.g. "PT3M30S", "PT1H2M",
// "PT45S"). It reports ok=false for anything it cannot parse; per spec.md
// §4.6, unknown duration must be treated as "keep, don't filter out", never
// as zero.
func ParseISO8601Duration(raw string) (seconds int, ok bool) {
	if !strings.HasPrefix(raw, "PT") {
		return 0, false
	}
	rest := raw[2:]
	if rest == "" {
		return 0, false
	}

	var hours, minutes, secs int
	var num strings.Builder
	parsedAny := false

	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		case r == 'H' || r == 'M' || r == 'S':
			if num.Len() == 0 {
				return 0, false
			}
			value, err := strconv.Atoi(num.String())
			if err != nil {
				return 0, false
			}
			switch r {
			case 'H':
				hours = value
			case 'M':
				minutes = value
			case 'S':
				secs = value
			}
			parsedAny = true
			num.Reset()
		default:
			return 0, false
		}
	}

	if !parsedAny || num.Len() > 0 {
		return 0, false
	}

	return hours*3600 + minutes*60 + secs, true
}
