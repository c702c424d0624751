// Package dates converts free-text dates found on documents into YYYY-MM-DD.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
)

// Layout is the canonical output format
const Layout = "2006-01-02"

// DefaultPivot splits two-digit years: below it is 20xx, at or above it 19xx
const DefaultPivot = 50

// Order decides how an ambiguous numeric date such as 03/04/2024 is read
type Order int

const (
	DayFirst Order = iota
	MonthFirst
)

// String returns the order name used in configuration
func (o Order) String() string {
	if o == MonthFirst {
		return "monthfirst"
	}
	return "dayfirst"
}

// ParseOrder parses "dayfirst" or "monthfirst"
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dayfirst", "day-first", "dmy", "":
		return DayFirst, nil
	case "monthfirst", "month-first", "mdy":
		return MonthFirst, nil
	}
	return DayFirst, fmt.Errorf("unknown date order %q", s)
}

// Options configures a Normalizer
type Options struct {
	Order Order
	Pivot int
}

// DefaultOptions returns day-first parsing with a pivot of 50
func DefaultOptions() Options {
	return Options{Order: DayFirst, Pivot: DefaultPivot}
}

// Normalizer parses dates with an ordered list of strategies. The first
// strategy that yields a real calendar date wins. A Normalizer is safe for
// concurrent use.
type Normalizer struct {
	opts       Options
	strategies []strategy
}

type strategy struct {
	name  string
	parse func(s string) (y, m, d int, ok bool)
}

var (
	bracketReplacer = strings.NewReplacer("[", "", "]", "", "(", "", ")", "")

	isoPattern     = regexp.MustCompile(`^(\d{4})[-/. ](\d{1,2})[-/. ](\d{1,2})(?:[t ]\d{1,2}:\d{2}(?::\d{2})?z?)?$`)
	numericPattern = regexp.MustCompile(`^(\d{1,2})[-/. ](\d{1,2})[-/. ](\d{4}|\d{2})$`)
	compactPattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	ordinalPattern = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	weekdayPattern = regexp.MustCompile(`\b(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)(day|nesday|sday|urday)?\b\.?,?`)
	spacePattern   = regexp.MustCompile(`\s+`)
	timePattern    = regexp.MustCompile(`[ t,]+\d{1,2}:\d{2}(?::\d{2})?(?: ?[ap]\.?m\.?|z)?$`)
	tokenPattern   = regexp.MustCompile(`[a-z]+|\d+`)
)

var months = map[string]int{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

// New creates a Normalizer
func New(opts Options) *Normalizer {
	if opts.Pivot < 0 || opts.Pivot > 99 {
		opts.Pivot = DefaultPivot
	}
	n := &Normalizer{opts: opts}

	dayFirst := strategy{"numeric day-first", n.numeric(true)}
	monthFirst := strategy{"numeric month-first", n.numeric(false)}
	if opts.Order == MonthFirst {
		dayFirst, monthFirst = monthFirst, dayFirst
	}
	n.strategies = []strategy{
		{"iso", parseISO},
		dayFirst,
		monthFirst,
		{"textual month", n.textual},
		{"compact", parseCompact},
	}
	return n
}

// Normalize returns s as YYYY-MM-DD. When no strategy matches it returns an
// UnparseableDate error; the caller keeps the raw text.
func (n *Normalizer) Normalize(s string) (string, error) {
	cleaned := n.clean(s)
	if cleaned == "" {
		return "", annerrors.New(annerrors.ErrorTypeUnparseableDate, "empty date").WithContext(s)
	}

	for _, st := range n.strategies {
		y, m, d, ok := st.parse(cleaned)
		if !ok {
			continue
		}
		if t, valid := calendarDate(y, m, d); valid {
			return t.Format(Layout), nil
		}
	}
	return "", annerrors.Newf(annerrors.ErrorTypeUnparseableDate, "no date format matches %q", s).WithContext(s)
}

// clean strips brackets, weekday names, ordinal suffixes and a trailing time
// of day and folds case
func (n *Normalizer) clean(s string) string {
	s = norm.NFKC.String(s)
	s = bracketReplacer.Replace(s)
	// a Caser keeps state between calls, so each call gets its own
	s = cases.Fold().String(s)
	s = weekdayPattern.ReplaceAllString(s, " ")
	s = ordinalPattern.ReplaceAllString(s, "$1")
	s = spacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
	s = timePattern.ReplaceAllString(s, "")
	return strings.Trim(s, " ,")
}

func (n *Normalizer) year(digits string) int {
	y, _ := strconv.Atoi(digits)
	if len(digits) <= 2 {
		if y < n.opts.Pivot {
			return 2000 + y
		}
		return 1900 + y
	}
	return y
}

func parseISO(s string) (int, int, int, bool) {
	m := isoPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, false
	}
	return atoi(m[1]), atoi(m[2]), atoi(m[3]), true
}

func parseCompact(s string) (int, int, int, bool) {
	m := compactPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, false
	}
	return atoi(m[1]), atoi(m[2]), atoi(m[3]), true
}

func (n *Normalizer) numeric(dayFirst bool) func(string) (int, int, int, bool) {
	return func(s string) (int, int, int, bool) {
		m := numericPattern.FindStringSubmatch(s)
		if m == nil {
			return 0, 0, 0, false
		}
		a, b := atoi(m[1]), atoi(m[2])
		if dayFirst {
			return n.year(m[3]), b, a, true
		}
		return n.year(m[3]), a, b, true
	}
}

// textual handles dates with a month name: "april 3 2024", "3 april 2024",
// "3-apr-24", "2024 apr 3"
func (n *Normalizer) textual(s string) (int, int, int, bool) {
	month := 0
	var nums []string
	for _, tok := range tokenPattern.FindAllString(s, -1) {
		if tok[0] >= '0' && tok[0] <= '9' {
			nums = append(nums, tok)
			continue
		}
		if m, ok := months[tok]; ok && month == 0 {
			month = m
			continue
		}
		if tok == "of" {
			continue
		}
		return 0, 0, 0, false
	}
	if month == 0 || len(nums) != 2 {
		return 0, 0, 0, false
	}

	if len(nums[0]) == 4 {
		return atoi(nums[0]), month, atoi(nums[1]), true
	}
	if len(nums[0]) > 2 {
		return 0, 0, 0, false
	}
	return n.year(nums[1]), month, atoi(nums[0]), true
}

func calendarDate(y, m, d int) (time.Time, bool) {
	if y < 1 || y > 9999 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
