package numeric

import (
	"context"
	"math"
	"time"

	"github.com/attrsim/attrsim/sim"
)

// OriginNow makes a date-increment interpolator re-read the clock on every
// invocation.
const OriginNow = "now"

// ISO8601 is the output layout: UTC with millisecond precision.
const ISO8601 = "2006-01-02T15:04:05.000Z07:00"

var originLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// DateIncrement returns origin + increment as an ISO-8601 instant.
type DateIncrement struct {
	fromNow   bool
	origin    time.Time
	increment time.Duration
	now       func() time.Time
}

type dateArgs struct {
	Origin    *string  `json:"origin"`
	Increment *float64 `json:"increment"`
}

// NewDateIncrement builds the interpolator. origin is "now" or a timestamp,
// parsed once here. increment is in seconds.
func NewDateIncrement(origin string, increment float64, now func() time.Time) (*DateIncrement, error) {
	if math.IsNaN(increment) || math.IsInf(increment, 0) {
		return nil, sim.InvalidSpec(sim.KindDateIncrement, "increment", "must be a finite number of seconds")
	}
	if now == nil {
		now = time.Now
	}
	d := &DateIncrement{
		increment: time.Duration(increment * float64(time.Second)),
		now:       now,
	}
	if origin == OriginNow {
		d.fromNow = true
		return d, nil
	}
	for _, layout := range originLayouts {
		if t, err := time.Parse(layout, origin); err == nil {
			d.origin = t
			return d, nil
		}
	}
	return nil, sim.InvalidSpec(sim.KindDateIncrement, "origin", "must be %q or a timestamp, got %q", OriginNow, origin)
}

func newDateIncrementFromSpec(spec sim.Spec, now func() time.Time) (*DateIncrement, error) {
	var args dateArgs
	if err := spec.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.Origin == nil {
		return nil, sim.InvalidSpec(spec.Kind, "origin", "is required")
	}
	if args.Increment == nil {
		return nil, sim.InvalidSpec(spec.Kind, "increment", "is required")
	}
	return NewDateIncrement(*args.Origin, *args.Increment, now)
}

// Value returns the incremented instant.
func (d *DateIncrement) Value() time.Time {
	origin := d.origin
	if d.fromNow {
		origin = d.now()
	}
	return origin.Add(d.increment)
}

// Interpolate implements sim.Interpolator. The tick is not used.
func (d *DateIncrement) Interpolate(_ context.Context, _ sim.Tick) (any, error) {
	return d.Value().UTC().Format(ISO8601), nil
}
