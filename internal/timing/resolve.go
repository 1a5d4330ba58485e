package timing

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"caltimer/internal/options"
)

// Solar holds the sunrise and sunset used for substitution in one cycle.
type Solar struct {
	Rise time.Time `json:"sunrise"`
	Set  time.Time `json:"sunset"`
}

// Basis selects which instant decides window membership.
type Basis string

const (
	// BasisNominal uses the calendar's own start/end, before solar
	// substitution and jitter. A solar-substituted switch time therefore
	// fires in the cycle whose window holds the calendar time.
	BasisNominal Basis = "nominal"
	// BasisResolved uses the instant after solar substitution (and offset)
	// but before jitter.
	BasisResolved Basis = "resolved"
)

func ParseBasis(s string) (Basis, error) {
	switch Basis(s) {
	case "", BasisNominal:
		return BasisNominal, nil
	case BasisResolved:
		return BasisResolved, nil
	}
	return "", fmt.Errorf("timing: unknown window basis %q", s)
}

// Jitter draws a random non-negative delay no larger than max.
type Jitter interface {
	Draw(max time.Duration) time.Duration
}

type uniformJitter struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitter returns a uniform Jitter seeded with seed. It is safe for
// concurrent use.
func NewJitter(seed int64) Jitter {
	return &uniformJitter{rnd: rand.New(rand.NewSource(seed))}
}

func (j *uniformJitter) Draw(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	j.mu.Lock()
	f := j.rnd.Float64()
	j.mu.Unlock()
	return time.Duration(f * float64(max))
}

// Resolved is the outcome of resolving one event. Start and End are the
// instants after solar substitution; the jitter is added on top of them.
type Resolved struct {
	Start       time.Time
	StartJitter time.Duration
	End         time.Time
	EndJitter   time.Duration

	FiresStart bool
	FiresEnd   bool
}

// StartAt is the instant the switch-on fires.
func (r Resolved) StartAt() time.Time { return r.Start.Add(r.StartJitter) }

// EndAt is the instant the switch-off fires.
func (r Resolved) EndAt() time.Time { return r.End.Add(r.EndJitter) }

// Resolver turns calendar times plus options into fire instants.
type Resolver struct {
	Jitter Jitter
	Basis  Basis
}

// Resolve applies, in order: jitter magnitudes from [random], uniform
// jitter draws, [sun] substitution plus offset, and the window test. sun
// may be nil when no solar times are available; substitution is then
// skipped and the offset applies to the calendar times.
func (r Resolver) Resolve(start, end time.Time, opts options.Options, sun *Solar, w Window) Resolved {
	var res Resolved

	if r.Jitter != nil {
		res.StartJitter = r.Jitter.Draw(minutes(opts.Random.StartMinutes()))
		res.EndJitter = r.Jitter.Draw(minutes(opts.Random.EndMinutes()))
	}

	res.Start, res.End = start, end
	if opts.Sun != nil {
		res.Start = substitute(start, opts.Sun.Start, opts.Sun.StartOffset, sun)
		res.End = substitute(end, opts.Sun.End, opts.Sun.EndOffset, sun)
	}

	startBasis, endBasis := start, end
	if r.Basis == BasisResolved {
		startBasis, endBasis = res.Start, res.End
	}
	res.FiresStart = w.Contains(startBasis)
	res.FiresEnd = w.Contains(endBasis)
	return res
}

// substitute replaces t with the referenced solar instant, when there is
// one, and adds the offset.
func substitute(t time.Time, ref options.SunEvent, offset *float64, sun *Solar) time.Time {
	if sun != nil {
		switch ref {
		case options.SunRise:
			t = sun.Rise
		case options.SunSet:
			t = sun.Set
		}
	}
	if offset != nil {
		t = t.Add(minutes(*offset))
	}
	return t
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
