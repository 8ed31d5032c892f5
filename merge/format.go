package merge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/WiesHerd/contractpipeline/model"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"CAD": "$",
	"AUD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

var dateInputLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// Formatter renders field values the way the grid displays them. Output depends only
// on the value, the locale and the currency, except for the literal date value "now".
type Formatter struct {
	printer    *message.Printer
	symbol     string
	scale      int
	dateLayout string
	clock      func() time.Time
}

// NewFormatter builds a formatter for a BCP 47 locale and an ISO 4217 currency code.
func NewFormatter(locale, currencyCode string, clock func() time.Time) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("parse currency %q: %w", currencyCode, err)
	}
	scale, _ := currency.Standard.Rounding(unit)

	symbol, ok := currencySymbols[unit.String()]
	if !ok {
		symbol = unit.String() + " "
	}
	if clock == nil {
		clock = time.Now
	}

	return &Formatter{
		printer:    message.NewPrinter(tag),
		symbol:     symbol,
		scale:      scale,
		dateLayout: dateLayoutFor(tag),
		clock:      clock,
	}, nil
}

func dateLayoutFor(tag language.Tag) string {
	base, _ := tag.Base()
	region, _ := tag.Region()
	switch base.String() {
	case "en":
		switch region.String() {
		case "US", "ZZ":
			return "1/2/2006"
		default:
			return "02/01/2006"
		}
	case "de":
		return "02.01.2006"
	case "fr", "es", "it":
		return "02/01/2006"
	default:
		return "2006-01-02"
	}
}

// Format renders v with the given format. ok is false when v does not fit the
// format; the returned string is then the plain text rendering of v.
func (f *Formatter) Format(v any, format model.ValueFormat) (string, bool) {
	switch format {
	case model.FormatCurrency:
		n, ok := toFloat(v)
		if !ok {
			return toText(v), false
		}
		return f.Currency(n), true
	case model.FormatPercent:
		n, ok := toFloat(v)
		if !ok {
			return toText(v), false
		}
		return f.Percent(n), true
	case model.FormatNumber:
		n, ok := toFloat(v)
		if !ok {
			return toText(v), false
		}
		return f.Number(n), true
	case model.FormatDate:
		t, ok := f.toTime(v)
		if !ok {
			return toText(v), false
		}
		return f.Date(t), true
	default:
		return toText(v), true
	}
}

func (f *Formatter) Currency(n float64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = math.Abs(n)
	}
	return sign + f.symbol + f.printer.Sprintf("%v", number.Decimal(n, number.Scale(f.scale)))
}

// Percent renders N.N% without rescaling: 87.5 -> "87.5%".
func (f *Formatter) Percent(n float64) string {
	return f.printer.Sprintf("%v", number.Decimal(n, number.Scale(1))) + "%"
}

func (f *Formatter) Number(n float64) string {
	return f.printer.Sprintf("%v", number.Decimal(n, number.MaxFractionDigits(2)))
}

func (f *Formatter) Date(t time.Time) string {
	return t.UTC().Format(f.dateLayout)
}

func (f *Formatter) toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "now") {
			return f.clock(), true
		}
		for _, layout := range dateInputLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		if t {
			return "Yes"
		}
		return "No"
	case time.Time:
		return t.UTC().Format("2006-01-02")
	default:
		return fmt.Sprint(v)
	}
}
