package reports

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// DateLayout is the display layout for dates (dd-MM-yyyy)
const DateLayout = "02-01-2006"

// NullToken is shown for missing values
const NullToken = "N/A"

// Locale selects number grouping and boolean words
type Locale string

const (
	LocaleEnglish    Locale = "en"
	LocaleIndonesian Locale = "id"
)

// ParseLocale validates a configured locale name
func ParseLocale(s string) (Locale, error) {
	switch Locale(strings.ToLower(strings.TrimSpace(s))) {
	case LocaleEnglish, "":
		return LocaleEnglish, nil
	case LocaleIndonesian:
		return LocaleIndonesian, nil
	}
	return "", fmt.Errorf("unsupported locale %q (must be 'en' or 'id')", s)
}

var (
	isoDateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}`)
	slashDate   = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// month/day/year is tried before day/month/year
var slashLayouts = []string{"1/2/2006", "2/1/2006"}

// identifierTokens are column-name words that mark a number as an identifier
var identifierTokens = map[string]bool{
	"id": true, "uid": true, "nik": true, "no": true, "nomor": true, "kode": true,
	"code": true, "phone": true, "telp": true, "hp": true, "msisdn": true, "npwp": true,
}

// Formatter renders report values for display. It never fails: values it cannot interpret
// are passed through as strings.
type Formatter struct {
	locale   Locale
	printer  *message.Printer
	location *time.Location
	yes, no  string
}

// NewFormatter creates a formatter. A nil location means UTC.
func NewFormatter(locale Locale, location *time.Location) *Formatter {
	if location == nil {
		location = time.UTC
	}
	f := &Formatter{locale: locale, location: location}
	switch locale {
	case LocaleIndonesian:
		f.printer = message.NewPrinter(language.Indonesian)
		f.yes, f.no = "Ya", "Tidak"
	default:
		f.locale = LocaleEnglish
		f.printer = message.NewPrinter(language.English)
		f.yes, f.no = "Yes", "No"
	}
	return f
}

// Locale returns the formatter's locale
func (f *Formatter) Locale() Locale { return f.locale }

// Format renders v for display under column
func (f *Formatter) Format(v models.Value, column string) string {
	switch v.Kind {
	case models.KindNull:
		return NullToken
	case models.KindTimestamp:
		return v.Time.In(f.location).Format(DateLayout)
	case models.KindString:
		return f.formatString(v.Str)
	case models.KindNumber:
		return f.formatNumber(v.Num, column)
	case models.KindBool:
		if v.Bool {
			return f.yes
		}
		return f.no
	}
	return v.String()
}

func (f *Formatter) formatString(s string) string {
	switch {
	case isoDateTime.MatchString(s):
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				if layout == time.RFC3339Nano {
					t = t.In(f.location)
				}
				return t.Format(DateLayout)
			}
		}
	case slashDate.MatchString(s):
		for _, layout := range slashLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(DateLayout)
			}
		}
	}
	return s
}

func (f *Formatter) formatNumber(n float64, column string) string {
	if IsIdentifierColumn(column) {
		if n == math.Trunc(n) && math.Abs(n) < 1e21 {
			return strconv.FormatFloat(n, 'f', 0, 64)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return f.printer.Sprint(number.Decimal(n, number.MaxFractionDigits(2)))
}

// IsIdentifierColumn reports whether a column name denotes an identifier (ID, phone number,
// tax number and similar) whose numbers must not be digit-grouped.
func IsIdentifierColumn(column string) bool {
	for _, token := range columnTokens(column) {
		if identifierTokens[token] {
			return true
		}
	}
	return false
}

// columnTokens splits a column name on non-alphanumerics and lower-to-upper case changes
func columnTokens(column string) []string {
	var tokens []string
	var cur strings.Builder
	var prev rune
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range column {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
		prev = r
	}
	flush()
	return tokens
}

// Humanize turns a stored key into a label: underscores become spaces
func Humanize(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}
