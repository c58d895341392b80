package video

import "testing"

func TestParseISO8601Duration(t *testing.T) {
	cases := []struct {
		raw     string
		seconds int
		ok      bool
	}{
		{"PT3M30S", 210, true},
		{"PT1H2M", 3720, true},
		{"PT45S", 45, true},
		{"PT1H", 3600, true},
		{"PT60S", 60, true},
		{"PT180S", 180, true},
		{"PT181S", 181, true},
		{"PT300S", 300, true},
		{"", 0, false},
		{"garbage", 0, false},
		{"P1D", 0, false},
		{"PT", 0, false},
		{"PT1H2M3", 0, false},
	}

	for _, c := range cases {
		seconds, ok := ParseISO8601Duration(c.raw)
		if ok != c.ok {
			t.Errorf("ParseISO8601Duration(%q) ok = %v, want %v", c.raw, ok, c.ok)
			continue
		}
		if ok && seconds != c.seconds {
			t.Errorf("ParseISO8601Duration(%q) = %d, want %d", c.raw, seconds, c.seconds)
		}
	}
}
