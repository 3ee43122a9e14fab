package diary

import (
	"fmt"
	"strings"
)

// Record is one contest-diary submission in the shape the form needs.
type Record struct {
	Contest    string `json:"contest"`
	Category   string `json:"category"`
	DiaryURL   string `json:"diary_url"`
	CallSign   string `json:"call_sign"`
	QTHName    string `json:"qth_name"`
	QTHLocator string `json:"qth_locator"`
	QSOCount   int    `json:"qso_count"`
	Email      string `json:"email"`
}

// ValidLocator reports whether s is a 6-character grid-square locator:
// a field pair A-R, a square pair of digits, a subsquare pair A-X.
// Callers normalize (trim, uppercase) before validating.
func ValidLocator(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < 2; i++ {
		if s[i] < 'A' || s[i] > 'R' {
			return false
		}
	}
	for i := 2; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	for i := 4; i < 6; i++ {
		if s[i] < 'A' || s[i] > 'X' {
			return false
		}
	}
	return true
}

// LocatorToGPS converts a 6-character locator to the longitude and
// latitude of its subsquare center.
func LocatorToGPS(locator string) (lon, lat float64, err error) {
	locator = strings.ToUpper(strings.TrimSpace(locator))
	if !ValidLocator(locator) {
		return 0, 0, fmt.Errorf("invalid locator: %q", locator)
	}

	lon = -180 +
		float64(locator[0]-'A')*20 +
		float64(locator[2]-'0')*2 +
		float64(locator[4]-'A')*(2.0/24) +
		1.0/24
	lat = -90 +
		float64(locator[1]-'A')*10 +
		float64(locator[3]-'0') +
		float64(locator[5]-'A')*(1.0/24) +
		1.0/48

	return lon, lat, nil
}
