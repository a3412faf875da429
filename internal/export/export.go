// Package export describes the AWS data-export schema families and their
// partitioning rules. Everything here is derived from the export type alone;
// no I/O happens in this package.
package export

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies a CUR schema family.
type Type string

const (
	TypeFocus          Type = "FOCUS1.0"
	TypeCUR2           Type = "CUR2.0"
	TypeCOH            Type = "COH"
	TypeCarbonEmission Type = "CARBON_EMISSION"
)

// Granularity is the period covered by one partition.
type Granularity string

const (
	GranularityMonthly Granularity = "monthly"
	GranularityDaily   Granularity = "daily"
)

const (
	monthlyLayout = "2006-01"
	dailyLayout   = "2006-01-02"
)

// Extensions accepted as partition content. CUR exports ship either columnar
// parquet or gzipped CSV; everything else under a partition is metadata.
var acceptedExtensions = []string{".parquet", ".csv.gz", ".gz"}

// DefaultTableName is the logical name bound to the base data set when the
// caller does not choose one.
const DefaultTableName = "CUR"

func ParseType(raw string) (Type, error) {
	switch Type(strings.TrimSpace(raw)) {
	case TypeFocus:
		return TypeFocus, nil
	case TypeCUR2:
		return TypeCUR2, nil
	case TypeCOH:
		return TypeCOH, nil
	case TypeCarbonEmission:
		return TypeCarbonEmission, nil
	default:
		return "", fmt.Errorf("invalid export type %q (valid: %s, %s, %s, %s)", raw, TypeFocus, TypeCUR2, TypeCOH, TypeCarbonEmission)
	}
}

// PartitionToken is the case-sensitive key name used in object keys, e.g.
// BILLING_PERIOD=2025-07. FOCUS exports use the lowercase token.
func (t Type) PartitionToken() string {
	switch t {
	case TypeFocus:
		return "billing_period"
	case TypeCOH:
		return "date"
	default:
		return "BILLING_PERIOD"
	}
}

func (t Type) Granularity() Granularity {
	if t == TypeCOH {
		return GranularityDaily
	}
	return GranularityMonthly
}

// AcceptedExtensions returns the content file extensions this export type may
// contain, longest match first.
func (t Type) AcceptedExtensions() []string {
	out := make([]string, len(acceptedExtensions))
	copy(out, acceptedExtensions)
	return out
}

// AcceptsFile reports whether an object name carries an accepted extension.
func (t Type) AcceptsFile(name string) bool {
	for _, ext := range acceptedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (g Granularity) layout() string {
	if g == GranularityDaily {
		return dailyLayout
	}
	return monthlyLayout
}

// Partition is one billing period or day of an export.
type Partition struct {
	Type  Type
	Value string
}

// ParseValue validates a partition value against the export type's
// granularity and returns the canonical partition.
func (t Type) ParseValue(value string) (Partition, error) {
	layout := t.Granularity().layout()
	expected := "YYYY-MM"
	if t.Granularity() == GranularityDaily {
		expected = "YYYY-MM-DD"
	}
	parsed, err := time.Parse(layout, value)
	if err != nil {
		return Partition{}, fmt.Errorf("invalid %s partition value %q: expected %s", t.Granularity(), value, expected)
	}
	// time.Parse accepts some non-canonical spellings; format back to enforce
	// the canonical zero-padded form.
	if parsed.Format(layout) != value {
		return Partition{}, fmt.Errorf("non-canonical partition value %q", value)
	}
	return Partition{Type: t, Value: value}, nil
}

// ParseDirName parses a partition directory name such as
// "BILLING_PERIOD=2025-07". The token must match exactly, including case.
func (t Type) ParseDirName(name string) (Partition, error) {
	token := t.PartitionToken() + "="
	if !strings.HasPrefix(name, token) {
		return Partition{}, fmt.Errorf("directory %q does not start with partition token %q", name, t.PartitionToken())
	}
	return t.ParseValue(strings.TrimPrefix(name, token))
}

// DirName renders the on-store directory name for this partition.
func (p Partition) DirName() string {
	return p.Type.PartitionToken() + "=" + p.Value
}

func (p Partition) String() string {
	return p.Value
}

// Before orders partitions lexicographically, which coincides with
// chronological order for YYYY-MM and YYYY-MM-DD values.
func (p Partition) Before(other Partition) bool {
	return p.Value < other.Value
}

// Window returns the ordered sequence of partition values covered by the
// inclusive [start, end] range. An inverted range is empty, never an error.
// Both bounds are required: an empty bound is an error. Open-ended ranges
// are checked per value with InWindow instead.
func (t Type) Window(start, end string) ([]string, error) {
	if start == "" || end == "" {
		return nil, fmt.Errorf("window requires both start and end")
	}
	layout := t.Granularity().layout()
	from, err := time.Parse(layout, start)
	if err != nil {
		return nil, fmt.Errorf("invalid window start %q for %s export: %w", start, t, err)
	}
	to, err := time.Parse(layout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid window end %q for %s export: %w", end, t, err)
	}

	values := []string{}
	for cursor := from; !cursor.After(to); {
		values = append(values, cursor.Format(layout))
		if t.Granularity() == GranularityDaily {
			cursor = cursor.AddDate(0, 0, 1)
		} else {
			cursor = cursor.AddDate(0, 1, 0)
		}
	}
	return values, nil
}

// InWindow reports whether a partition value falls inside the inclusive
// window. Empty bounds are open.
func (t Type) InWindow(value, start, end string) bool {
	if start != "" && value < start {
		return false
	}
	if end != "" && value > end {
		return false
	}
	return true
}

// ValidateBound checks that a window bound matches the export type's date
// format. Empty bounds are allowed.
func (t Type) ValidateBound(bound string) error {
	if bound == "" {
		return nil
	}
	_, err := t.ParseValue(bound)
	if err != nil {
		return err
	}
	return nil
}
