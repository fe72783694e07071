// Package ingest runs the ingestion pipeline: resolve the asset, work out
// which day ranges are still missing, fetch them through the provider
// coordinator, map raw records into table rows, bulk-load them, and record
// the covered ranges so the next run only fetches what is new.
package ingest

import (
	"fmt"
	"sort"
	"time"
)

// Range is a closed-open day interval [Start, End). Both bounds are UTC
// midnights; End is never included.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewRange builds a day range from two instants, truncating both to UTC
// midnight.
func NewRange(start, end time.Time) Range {
	return Range{Start: TruncateDay(start), End: TruncateDay(end)}
}

// TruncateDay floors an instant to UTC midnight.
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// IsEmpty reports whether the range contains no days.
func (r Range) IsEmpty() bool {
	return !r.Start.Before(r.End)
}

// Days returns the number of days in the range.
func (r Range) Days() int {
	if r.IsEmpty() {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Contains reports whether day falls inside [Start, End).
func (r Range) Contains(day time.Time) bool {
	return !day.Before(r.Start) && day.Before(r.End)
}

// Overlaps reports whether the two ranges share at least one day.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Touches reports whether the two ranges overlap or are directly adjacent,
// i.e. whether they can be merged into one contiguous range.
func (r Range) Touches(o Range) bool {
	return !r.Start.After(o.End) && !o.Start.After(r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// subtract returns the parts of req not covered by any range in covered.
// covered need not be sorted or disjoint. The result is disjoint and
// ascending, and its union with (covered ∩ req) equals req.
func subtract(req Range, covered []Range) []Range {
	if req.IsEmpty() {
		return nil
	}

	merged := merge(covered)

	var gaps []Range
	cursor := req.Start
	for _, c := range merged {
		if !c.End.After(cursor) {
			continue
		}
		if !c.Start.Before(req.End) {
			break
		}
		if cursor.Before(c.Start) {
			gapEnd := c.Start
			if req.End.Before(gapEnd) {
				gapEnd = req.End
			}
			gaps = append(gaps, Range{Start: cursor, End: gapEnd})
		}
		if c.End.After(cursor) {
			cursor = c.End
		}
		if !cursor.Before(req.End) {
			return gaps
		}
	}

	if cursor.Before(req.End) {
		gaps = append(gaps, Range{Start: cursor, End: req.End})
	}
	return gaps
}

// merge sorts ranges and folds overlapping or adjacent ones together so the
// result is disjoint, ascending and minimal. Empty ranges are dropped.
func merge(ranges []Range) []Range {
	var in []Range
	for _, r := range ranges {
		if !r.IsEmpty() {
			in = append(in, r)
		}
	}
	if len(in) == 0 {
		return nil
	}

	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	out := []Range{in[0]}
	for _, r := range in[1:] {
		last := &out[len(out)-1]
		if !r.Start.After(last.End) {
			if r.End.After(last.End) {
				last.End = r.End
			}
		} else {
			out = append(out, r)
		}
	}
	return out
}
