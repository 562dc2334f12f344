// Package gameday handles the Eastern Time civil dates that anchor the
// sports calendar. A "game day" is the ET date a game tips off, which can
// differ from the UTC date for evening games.
package gameday

import "time"

// Layout is the wire format for game days and snapshot dates.
const Layout = "2006-01-02"

var eastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic("tzdata missing America/New_York: " + err.Error())
	}
	eastern = loc
}

// Location returns the Eastern Time zone.
func Location() *time.Location {
	return eastern
}

// FromTime returns the ET game day containing t.
func FromTime(t time.Time) string {
	return t.In(eastern).Format(Layout)
}

// Today returns the current ET game day.
func Today() string {
	return FromTime(time.Now())
}

// Parse interprets a YYYY-MM-DD string as midnight ET.
func Parse(day string) (time.Time, error) {
	return time.ParseInLocation(Layout, day, eastern)
}

// EndOfDay returns the instant the ET game day rolls over.
func EndOfDay(day string) (time.Time, error) {
	start, err := Parse(day)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 0, 1), nil
}

// UTCDay returns the UTC calendar date of t, used for bot counter resets.
func UTCDay(t time.Time) string {
	return t.UTC().Format(Layout)
}
