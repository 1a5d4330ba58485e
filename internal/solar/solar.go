package solar

import (
	"errors"
	"fmt"
	"time"

	"github.com/sixdouglas/suncalc"

	"caltimer/internal/timing"
)

// ErrNoSunriseSunset is returned for days without a sunrise/sunset pair,
// e.g. polar day or night.
var ErrNoSunriseSunset = errors.New("solar: no sunrise/sunset on this day")

// Calculator computes sunrise and sunset for a fixed observer position.
type Calculator struct {
	Latitude  float64
	Longitude float64
	// Location is the zone the results are expressed in. Nil means time.Local.
	Location *time.Location
}

func New(latitude, longitude float64, loc *time.Location) *Calculator {
	return &Calculator{Latitude: latitude, Longitude: longitude, Location: loc}
}

// Calculate returns sunrise and sunset of the calendar day containing date
// (in the calculator's location).
func (c *Calculator) Calculate(date time.Time) (timing.Solar, error) {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	d := date.In(loc)
	noon := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc)

	times := suncalc.GetTimes(noon, c.Latitude, c.Longitude)
	rise, okRise := times[suncalc.Sunrise]
	set, okSet := times[suncalc.Sunset]
	if !okRise || !okSet || !plausible(noon, rise.Value) || !plausible(noon, set.Value) || !set.Value.After(rise.Value) {
		return timing.Solar{}, fmt.Errorf("%w: %s at %.4f,%.4f", ErrNoSunriseSunset, noon.Format("2006-01-02"), c.Latitude, c.Longitude)
	}

	return timing.Solar{
		Rise: rise.Value.In(loc),
		Set:  set.Value.In(loc),
	}, nil
}

// plausible rejects the zero time and the far-off instants suncalc yields
// when the sun never crosses the horizon.
func plausible(noon, t time.Time) bool {
	if t.IsZero() {
		return false
	}
	d := t.Sub(noon)
	return d > -24*time.Hour && d < 24*time.Hour
}
