package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultTablePrefix = "btc"

	tableDateLayout     = "2006_01_02"
	partitionDateLayout = "2006-01-02"
)

var (
	prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9]{0,31}$`)
	tablePattern  = regexp.MustCompile(`^[a-z][a-z0-9]{0,31}_[0-9]{4}_[0-9]{2}_[0-9]{2}$`)
)

// Table identifies one day-partitioned dataset. The zero value is invalid;
// construct with TableForDate or ParseTable so the name is checked once.
type Table struct {
	prefix string
	date   time.Time
}

// TableForDate returns the table holding rows written on t's calendar day in
// t's location.
func TableForDate(prefix string, t time.Time) (Table, error) {
	if !prefixPattern.MatchString(prefix) {
		return Table{}, errors.Wrapf(ErrMalformedRequest, "invalid table prefix %q", prefix)
	}
	y, m, d := t.Date()
	return Table{prefix: prefix, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}, nil
}

// ParseTable validates an externally supplied table name against the
// prefix_YYYY_MM_DD pattern.
func ParseTable(prefix, name string) (Table, error) {
	if !prefixPattern.MatchString(prefix) {
		return Table{}, errors.Wrapf(ErrMalformedRequest, "invalid table prefix %q", prefix)
	}
	if !tablePattern.MatchString(name) || !strings.HasPrefix(name, prefix+"_") {
		return Table{}, errors.Wrapf(ErrMalformedRequest, "invalid table name %q", name)
	}
	suffix := strings.TrimPrefix(name, prefix+"_")
	date, err := time.Parse(tableDateLayout, suffix)
	if err != nil {
		return Table{}, errors.Wrapf(ErrMalformedRequest, "invalid table date %q", suffix)
	}
	return Table{prefix: prefix, date: date}, nil
}

func (t Table) Name() string {
	return t.prefix + "_" + t.date.Format(tableDateLayout)
}

// Partition is the day_partition key value rows of this table are stored under.
func (t Table) Partition() string {
	return t.date.Format(partitionDateLayout)
}

func (t Table) Prefix() string {
	return t.prefix
}

func (t Table) Date() time.Time {
	return t.date
}

func (t Table) IsZero() bool {
	return t.prefix == ""
}

func (t Table) String() string {
	return t.Name()
}
