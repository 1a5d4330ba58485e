// Package options parses the option block that users write into a calendar
// event's description:
//
//	[random]
//	# maximum random delay in minutes; start/end override all
//	all = 10
//	start = 5
//
//	[sun]
//	# replace start/end with today's sunrise or sunset
//	start = rise
//	start_offset = -15
//	end = set
//	end_offset = 30
//
// Both "key = value" and "key : value" are accepted, as are "#" and ";"
// comment lines. Keys are case-insensitive; values are not, so "Rise" is
// rejected. Unknown sections and keys are ignored.
package options

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	SectionRandom = "random"
	SectionSun    = "sun"

	// MaxMinutes bounds every jitter magnitude and sun offset.
	MaxMinutes = 24 * 60
)

// SunEvent selects which solar instant replaces a calendar time.
type SunEvent string

const (
	SunUnset SunEvent = ""
	SunRise  SunEvent = "rise"
	SunSet   SunEvent = "set"
)

// Random holds jitter magnitudes in minutes. A nil field was not given (or
// was malformed).
type Random struct {
	All   *float64
	Start *float64
	End   *float64
}

// StartMinutes is the jitter magnitude for the start: Start if set,
// otherwise All, otherwise zero.
func (r *Random) StartMinutes() float64 {
	if r == nil {
		return 0
	}
	return firstOf(r.Start, r.All)
}

// EndMinutes is the jitter magnitude for the end: End if set, otherwise
// All, otherwise zero.
func (r *Random) EndMinutes() float64 {
	if r == nil {
		return 0
	}
	return firstOf(r.End, r.All)
}

func firstOf(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// Sun holds solar substitution settings. Offsets are signed minutes.
type Sun struct {
	Start       SunEvent
	End         SunEvent
	StartOffset *float64
	EndOffset   *float64
}

// Options is the parsed option block. A nil section was absent.
type Options struct {
	Random *Random
	Sun    *Sun
}

// Empty reports whether no recognized section was present.
func (o Options) Empty() bool {
	return o.Random == nil && o.Sun == nil
}

var (
	ErrMalformed     = errors.New("malformed option block")
	ErrNoSection     = errors.New("option outside of a [section]")
	ErrNotNumber     = errors.New("not a number")
	ErrNegative      = errors.New("must not be negative")
	ErrOutOfRange    = fmt.Errorf("must be within %d minutes", MaxMinutes)
	ErrUnknownSunRef = errors.New(`must be "rise" or "set"`)
)

// ParseError describes one rejected part of an option block. Section and
// Key are empty when the whole block was rejected.
type ParseError struct {
	Section string
	Key     string
	Value   string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return "options: " + e.Err.Error()
	}
	return fmt.Sprintf("options: [%s] %s = %q: %v", e.Section, e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads an option block. It never fails: text that is not an option
// block yields empty Options and a single *ParseError; a malformed field is
// dropped with its own *ParseError while the remaining fields still apply.
func Parse(description string) (Options, []error) {
	var opts Options
	if strings.TrimSpace(description) == "" {
		return opts, nil
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:    true,
		KeyValueDelimiters: "=:",
	}, []byte(description))
	if err != nil {
		return opts, []error{&ParseError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}}
	}
	if def, err := f.GetSection(ini.DefaultSection); err == nil && len(def.Keys()) > 0 {
		return opts, []error{&ParseError{Err: ErrNoSection}}
	}

	var errs []error
	if sec, err := f.GetSection(SectionRandom); err == nil {
		r := &Random{}
		r.All = number(sec, "all", false, &errs)
		r.Start = number(sec, "start", false, &errs)
		r.End = number(sec, "end", false, &errs)
		opts.Random = r
	}
	if sec, err := f.GetSection(SectionSun); err == nil {
		s := &Sun{}
		s.Start = sunRef(sec, "start", &errs)
		s.End = sunRef(sec, "end", &errs)
		s.StartOffset = number(sec, "start_offset", true, &errs)
		s.EndOffset = number(sec, "end_offset", true, &errs)
		opts.Sun = s
	}
	return opts, errs
}

func number(sec *ini.Section, key string, signed bool, errs *[]error) *float64 {
	if !sec.HasKey(key) {
		return nil
	}
	raw := strings.TrimSpace(sec.Key(key).String())
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*errs = append(*errs, &ParseError{Section: sec.Name(), Key: key, Value: raw, Err: ErrNotNumber})
		return nil
	}
	if !signed && v < 0 {
		*errs = append(*errs, &ParseError{Section: sec.Name(), Key: key, Value: raw, Err: ErrNegative})
		return nil
	}
	if math.Abs(v) > MaxMinutes {
		*errs = append(*errs, &ParseError{Section: sec.Name(), Key: key, Value: raw, Err: ErrOutOfRange})
		return nil
	}
	return &v
}

func sunRef(sec *ini.Section, key string, errs *[]error) SunEvent {
	if !sec.HasKey(key) {
		return SunUnset
	}
	raw := strings.TrimSpace(sec.Key(key).String())
	switch SunEvent(raw) {
	case SunRise:
		return SunRise
	case SunSet:
		return SunSet
	}
	*errs = append(*errs, &ParseError{Section: sec.Name(), Key: key, Value: raw, Err: ErrUnknownSunRef})
	return SunUnset
}
