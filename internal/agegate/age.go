package agegate

import (
	"strconv"
	"time"
)

// DefaultAdultDOB is the birth-year string used when fetching
// jurisdiction-default permissions without collecting a real date of birth.
const DefaultAdultDOB = "1970"

// AgeFromDOB computes an age in whole years from a date-of-birth string.
// Three formats are accepted, tried in order: a full timestamp, an ISO-8601
// calendar date, and a bare 4-digit birth year. The first two adjust for
// whether the birthday has occurred this year; the bare-year branch is a
// plain year subtraction. That asymmetry between the precise and coarse
// paths is deliberate and load-bearing for jurisdictions that only collect
// a birth year. When nothing parses the age is 0.
func AgeFromDOB(dob string, now time.Time) int {
	if t, err := time.Parse(time.RFC3339, dob); err == nil {
		return yearsBetween(t, now)
	}
	if t, err := time.Parse("2006-01-02", dob); err == nil {
		return yearsBetween(t, now)
	}
	if len(dob) == 4 {
		if year, err := strconv.Atoi(dob); err == nil {
			return now.Year() - year
		}
	}
	return 0
}

func yearsBetween(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	return years
}
