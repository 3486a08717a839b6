package aggregate

import (
	"fmt"
	"strings"
	"time"
)

// SkipReason explains why a row was left out of the aggregation, the zero
// value means the row was used.
type SkipReason string

const (
	SkipMissingDate SkipReason = "missing sampledate"
	SkipMissingDam  SkipReason = "missing damname"
)

// DateError is returned for a sampledate that cannot be parsed.
type DateError struct {
	Date string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("unparseable sampledate %q", e.Date)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"2006/1/2",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-1-2 15:04:05",
	"2006/1/2 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// SampleYear returns the 4 digit year of a sampledate.
func SampleYear(date string) (string, error) {
	date = strings.TrimSpace(date)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, date)
		if err == nil {
			return fmt.Sprintf("%04d", t.Year()), nil
		}
	}
	return "", &DateError{Date: date}
}

// Validate reports whether the row can be aggregated.
func (r Row) Validate() SkipReason {
	if r["sampledate"] == "" {
		return SkipMissingDate
	}
	if r["damname"] == "" {
		return SkipMissingDam
	}
	return ""
}

func (r Row) Entry() Entry {
	return Entry{
		SampleLayer:         r["samplelayer"],
		SampleDepth:         r["sampledepth"],
		ItemName:            r["itemname"],
		ItemEngName:         r["itemengname"],
		ItemEngAbbreviation: r["itemengabbreviation"],
		ItemValue:           r["itemvalue"],
		ItemUnit:            r["itemunit"],
		Note:                r["note"],
	}
}

// Add aggregates row into t. A non-empty SkipReason means the row was left
// out, an error means the row is malformed in a way that invalidates the
// input it came from.
func (t Tree) Add(row Row) (SkipReason, error) {
	reason := row.Validate()
	if reason != "" {
		return reason, nil
	}

	date := row["sampledate"]
	year, err := SampleYear(date)
	if err != nil {
		return "", err
	}

	site := t.Site(year, row["damname"], row["siteid"])
	site.Lon = row["twd97lon"]
	site.Lat = row["twd97lat"]
	site.Put(date, row.Entry())
	return "", nil
}
