// Package text implements the text rotation interpolator: a calendar field of
// the tick selects a bucket of text, either a literal or a weighted draw.
package text

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/attrsim/attrsim/sim"
)

// Calendar units, read from the tick in UTC.
const (
	Seconds = "seconds"
	Minutes = "minutes"
	Hours   = "hours"
	Days    = "days"   // weekday, Sunday = 0
	Dates   = "dates"  // day of month, 1-31
	Months  = "months" // January = 0
	Years   = "years"
)

var fields = map[string]func(time.Time) int{
	Seconds: func(t time.Time) int { return t.Second() },
	Minutes: func(t time.Time) int { return t.Minute() },
	Hours:   func(t time.Time) int { return t.Hour() },
	Days:    func(t time.Time) int { return int(t.Weekday()) },
	Dates:   func(t time.Time) int { return t.Day() },
	Months:  func(t time.Time) int { return int(t.Month()) - 1 },
	Years:   func(t time.Time) int { return t.Year() },
}

// weightTotal is the sum every probability table must reach.
const weightTotal = 100

// Choice is one weighted entry of a probability table.
type Choice struct {
	Weight float64
	Text   string
}

// Bucket is the text selected from Threshold upward. Exactly one of Literal
// and Choices is meaningful: Choices is non-nil for probability tables.
type Bucket struct {
	Threshold float64
	Literal   string
	Choices   []Choice
}

// Rotation selects text by calendar field.
type Rotation struct {
	units   string
	field   func(time.Time) int
	buckets []Bucket

	mu  sync.Mutex
	rng *rand.Rand
}

type rotationArgs struct {
	Units *string           `json:"units"`
	Text  []json.RawMessage `json:"text"`
}

// NewRotation builds a rotation over buckets, which are sorted ascending by
// threshold. rng drives weighted draws; pass a seeded source for
// reproducible output.
func NewRotation(units string, buckets []Bucket, rng *rand.Rand) (*Rotation, error) {
	field, ok := fields[units]
	if !ok {
		return nil, sim.InvalidSpec(sim.KindTextRotation, "units", "must be one of seconds, minutes, hours, days, dates, months, years, got %q", units)
	}
	if len(buckets) == 0 {
		return nil, sim.InvalidSpec(sim.KindTextRotation, "text", "must contain at least one entry")
	}
	for i, b := range buckets {
		if b.Choices == nil {
			continue
		}
		if len(b.Choices) == 0 {
			return nil, sim.InvalidSpec(sim.KindTextRotation, "text", "entry %d has an empty probability table", i)
		}
		sum := 0.0
		for _, c := range b.Choices {
			if c.Weight < 0 || math.IsNaN(c.Weight) {
				return nil, sim.InvalidSpec(sim.KindTextRotation, "text", "entry %d has a negative weight", i)
			}
			sum += c.Weight
		}
		if math.Abs(sum-weightTotal) > 1e-9 {
			return nil, sim.InvalidSpec(sim.KindTextRotation, "text", "entry %d weights sum to %v, must sum to %d", i, sum, weightTotal)
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	sorted := make([]Bucket, len(buckets))
	copy(sorted, buckets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })
	return &Rotation{units: units, field: field, buckets: sorted, rng: rng}, nil
}

func newRotationFromSpec(spec sim.Spec, rng *rand.Rand) (*Rotation, error) {
	var args rotationArgs
	if err := spec.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.Units == nil {
		return nil, sim.InvalidSpec(spec.Kind, "units", "is required")
	}
	if args.Text == nil {
		return nil, sim.InvalidSpec(spec.Kind, "text", "is required")
	}
	buckets := make([]Bucket, len(args.Text))
	for i, raw := range args.Text {
		b, err := decodeBucket(raw)
		if err != nil {
			return nil, sim.InvalidSpec(spec.Kind, "text", "entry %d: %v", i, err)
		}
		buckets[i] = b
	}
	return NewRotation(*args.Units, buckets, rng)
}

// decodeBucket reads [threshold, "text"] or [threshold, [[weight, "text"], ...]].
func decodeBucket(raw json.RawMessage) (Bucket, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return Bucket{}, fmt.Errorf("must be a [threshold, text] pair")
	}
	var b Bucket
	if err := json.Unmarshal(pair[0], &b.Threshold); err != nil {
		return Bucket{}, fmt.Errorf("threshold must be a number")
	}
	value := bytes.TrimSpace(pair[1])
	if len(value) > 0 && value[0] == '[' {
		var table [][]json.RawMessage
		if err := json.Unmarshal(value, &table); err != nil {
			return Bucket{}, fmt.Errorf("probability table must be a list of [weight, text] pairs")
		}
		b.Choices = make([]Choice, 0, len(table))
		for j, entry := range table {
			var c Choice
			if len(entry) != 2 ||
				json.Unmarshal(entry[0], &c.Weight) != nil ||
				json.Unmarshal(entry[1], &c.Text) != nil {
				return Bucket{}, fmt.Errorf("probability entry %d must be a [weight, text] pair", j)
			}
			b.Choices = append(b.Choices, c)
		}
		return b, nil
	}
	if err := json.Unmarshal(value, &b.Literal); err != nil {
		return Bucket{}, fmt.Errorf("text must be a string or a probability table")
	}
	return b, nil
}

// At returns the text for instant t, or nil when the calendar field is below
// the smallest threshold.
func (r *Rotation) At(t time.Time) any {
	v := float64(r.field(t.UTC()))
	i := sort.Search(len(r.buckets), func(i int) bool { return r.buckets[i].Threshold > v })
	if i == 0 {
		return nil
	}
	b := r.buckets[i-1]
	if b.Choices == nil {
		return b.Literal
	}
	return r.draw(b.Choices)
}

// draw picks the first choice whose cumulative weight reaches a uniform draw
// in [0, 100).
func (r *Rotation) draw(choices []Choice) string {
	r.mu.Lock()
	x := r.rng.Float64() * weightTotal
	r.mu.Unlock()

	acc := 0.0
	for _, c := range choices {
		acc += c.Weight
		if acc >= x {
			return c.Text
		}
	}
	return choices[len(choices)-1].Text
}

// Interpolate implements sim.Interpolator.
func (r *Rotation) Interpolate(_ context.Context, tick sim.Tick) (any, error) {
	return r.At(tick.At), nil
}
