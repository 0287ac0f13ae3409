package strategy

import "time"

var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}

// NYSEOpen reports whether t falls inside NYSE regular trading hours,
// weekdays 09:30-16:00 America/New_York. Exchange holidays are not modeled;
// strategies that care about them gate on their own data availability.
func NYSEOpen(t time.Time) bool {
	et := t.In(eastern)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
