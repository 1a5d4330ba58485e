package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestParseEmptyDescription(t *testing.T) {
	opts, errs := Parse("  \n")
	assert.True(t, opts.Empty())
	assert.Empty(t, errs)
}

func TestParseFullBlock(t *testing.T) {
	desc := `[random]
# jitter in minutes
all = 10
start : 5

[sun]
start = rise
start_offset = -15
end = set
end_offset: 30.5
`
	opts, errs := Parse(desc)
	require.Empty(t, errs)
	require.NotNil(t, opts.Random)
	require.NotNil(t, opts.Sun)

	assert.Equal(t, ptr(10), opts.Random.All)
	assert.Equal(t, ptr(5), opts.Random.Start)
	assert.Nil(t, opts.Random.End)

	assert.Equal(t, SunRise, opts.Sun.Start)
	assert.Equal(t, SunSet, opts.Sun.End)
	assert.Equal(t, ptr(-15), opts.Sun.StartOffset)
	assert.Equal(t, ptr(30.5), opts.Sun.EndOffset)
}

func TestExplicitMagnitudeOverridesAll(t *testing.T) {
	opts, errs := Parse("[random]\nall = 10\nstart = 2\n")
	require.Empty(t, errs)

	assert.Equal(t, 2.0, opts.Random.StartMinutes())
	assert.Equal(t, 10.0, opts.Random.EndMinutes())
}

func TestMagnitudesOfAbsentSection(t *testing.T) {
	var r *Random
	assert.Zero(t, r.StartMinutes())
	assert.Zero(t, r.EndMinutes())

	r = &Random{End: ptr(3)}
	assert.Zero(t, r.StartMinutes())
	assert.Equal(t, 3.0, r.EndMinutes())
}

func TestGarbageDescription(t *testing.T) {
	opts, errs := Parse("Remember to water the plants before leaving")
	assert.True(t, opts.Empty())
	require.Len(t, errs, 1)

	var pe *ParseError
	require.True(t, errors.As(errs[0], &pe))
	assert.ErrorIs(t, errs[0], ErrMalformed)
}

func TestKeysWithoutSection(t *testing.T) {
	opts, errs := Parse("start = rise\n")
	assert.True(t, opts.Empty())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoSection)
}

func TestUnknownSectionIgnored(t *testing.T) {
	opts, errs := Parse("[lights]\ncolor = red\n")
	assert.True(t, opts.Empty())
	assert.Empty(t, errs)
}

func TestMalformedFieldIsIsolated(t *testing.T) {
	desc := `[random]
all = ten
end = 4

[sun]
start = noon
start_offset = abc
end = set
end_offset = 20
`
	opts, errs := Parse(desc)
	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], ErrNotNumber)
	assert.ErrorIs(t, errs[1], ErrUnknownSunRef)
	assert.ErrorIs(t, errs[2], ErrNotNumber)

	assert.Nil(t, opts.Random.All)
	assert.Equal(t, ptr(4), opts.Random.End)
	assert.Equal(t, SunUnset, opts.Sun.Start)
	assert.Nil(t, opts.Sun.StartOffset)
	assert.Equal(t, SunSet, opts.Sun.End)
	assert.Equal(t, ptr(20), opts.Sun.EndOffset)

	var pe *ParseError
	require.True(t, errors.As(errs[1], &pe))
	assert.Equal(t, "sun", pe.Section)
	assert.Equal(t, "start", pe.Key)
	assert.Equal(t, "noon", pe.Value)
}

func TestNegativeJitterRejected(t *testing.T) {
	opts, errs := Parse("[random]\nstart = -5\n")
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNegative)
	assert.Nil(t, opts.Random.Start)
	assert.Zero(t, opts.Random.StartMinutes())
}

func TestNonFiniteRejected(t *testing.T) {
	_, errs := Parse("[random]\nall = NaN\n[sun]\nstart = rise\nstart_offset = inf\n")
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrNotNumber)
	}
}

func TestKeysAreCaseInsensitive(t *testing.T) {
	opts, errs := Parse("[random]\nALL = 1\n")
	require.Empty(t, errs)
	assert.Equal(t, ptr(1), opts.Random.All)
}

func TestSunReferenceIsCaseSensitive(t *testing.T) {
	opts, errs := Parse("[sun]\nstart = Rise\nend = SET\n")
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrUnknownSunRef)
	}
	assert.Equal(t, SunUnset, opts.Sun.Start)
	assert.Equal(t, SunUnset, opts.Sun.End)
}

func TestHugeValuesRejected(t *testing.T) {
	opts, errs := Parse("[random]\nall = 1e12\nend = 30\n[sun]\nstart = rise\nstart_offset = -1e12\nend_offset = 1440\n")
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrOutOfRange)
	}

	assert.Nil(t, opts.Random.All)
	assert.Equal(t, ptr(30), opts.Random.End)
	assert.Equal(t, SunRise, opts.Sun.Start)
	assert.Nil(t, opts.Sun.StartOffset)
	assert.Equal(t, ptr(1440), opts.Sun.EndOffset)
}
