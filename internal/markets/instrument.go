package markets

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/models"
)

// ParseOptionName extracts the strike and right from a broker option name.
// Names come in shapes like "US 500 6000 CALL", "Daily US 500 6058.0 CALL",
// "Daily EURUSD 10410 CALL ($1)" and "Weekly Germany 40 (Wed)21500 PUT":
// the right is the CALL/PUT token and the strike is the last number before
// it, even when glued to other text.
func ParseOptionName(name string) (float64, models.OptionRight, error) {
	upper := strings.ToUpper(name)

	var right models.OptionRight
	var prefix string
	if i := strings.Index(upper, "CALL"); i >= 0 {
		right = models.RightCall
		prefix = strings.TrimSpace(upper[:i])
	} else if i := strings.Index(upper, "PUT"); i >= 0 {
		right = models.RightPut
		prefix = strings.TrimSpace(upper[:i])
	} else {
		return 0, "", fmt.Errorf("no CALL or PUT in option name %q", name)
	}

	// Scan backwards for the last number in the prefix, allowing a single
	// decimal point so "6058.0" keeps its fractional part.
	var digits []byte
	seenDot := false
scan:
	for i := len(prefix) - 1; i >= 0; i-- {
		switch c := prefix[i]; {
		case c >= '0' && c <= '9':
			digits = append([]byte{c}, digits...)
		case c == '.' && !seenDot && len(digits) > 0:
			seenDot = true
			digits = append([]byte{c}, digits...)
		default:
			if len(digits) > 0 {
				break scan
			}
		}
	}

	strike, err := strconv.ParseFloat(string(digits), 64)
	if err != nil || strike <= 0 {
		return 0, "", fmt.Errorf("no strike price in option name %q", name)
	}
	return strike, right, nil
}

// ParseExpiry turns a broker expiry string into an absolute time. Full
// dates ("29-JAN-25") resolve directly; month-year strings ("MAR-25")
// resolve to the third Friday of that month, the standard index expiry.
// Date-only expiries are treated as end of day UTC so a contract stays
// priceable through its final session.
func ParseExpiry(expiry string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(expiry), "-")
	switch len(parts) {
	case 3:
		day, err := strconv.Atoi(parts[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expiry %q: bad day", expiry)
		}
		month, err := parseMonth(parts[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expiry %q: %w", expiry, err)
		}
		year, err := parseYear(parts[2])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expiry %q: %w", expiry, err)
		}
		t := time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
		if t.Day() != day {
			return time.Time{}, fmt.Errorf("parse expiry %q: day out of range", expiry)
		}
		return t, nil
	case 2:
		month, err := parseMonth(parts[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expiry %q: %w", expiry, err)
		}
		year, err := parseYear(parts[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expiry %q: %w", expiry, err)
		}
		day := thirdFriday(year, month)
		return time.Date(year, month, day, 23, 59, 59, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("parse expiry %q: unrecognized format", expiry)
	}
}

func parseMonth(s string) (time.Month, error) {
	t, err := time.Parse("Jan", normalizeMonth(s))
	if err != nil {
		return 0, fmt.Errorf("bad month %q", s)
	}
	return t.Month(), nil
}

// normalizeMonth maps "JAN", "jan" and "Jan" onto the form time.Parse
// expects.
func normalizeMonth(s string) string {
	if len(s) < 3 {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil || y < 0 || y > 99 {
		return 0, fmt.Errorf("bad year %q", s)
	}
	return 2000 + y, nil
}

// thirdFriday returns the day of month of the third Friday.
func thirdFriday(year int, month time.Month) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return 1 + offset + 14
}

// AdjustFXStrike rescales a raw parsed strike onto the underlying's price
// convention. FX option names quote strikes in points ("10410" against a
// EURUSD trading at 1.0410), so when the magnitudes differ by more than an
// order of ten the strike is shifted to match the underlying's whole-digit
// count. Index and commodity strikes already match and pass through.
func AdjustFXStrike(rawStrike, underlying float64) float64 {
	if rawStrike <= 0 || underlying <= 0 {
		return rawStrike
	}

	strikeMag := math.Abs(math.Floor(math.Log10(rawStrike)))
	underMag := math.Abs(math.Floor(math.Log10(underlying)))
	if math.Abs(strikeMag-underMag) <= 1 {
		return rawStrike
	}

	strikeDigits := len(strconv.Itoa(int(rawStrike)))
	underDigits := len(strconv.Itoa(int(underlying)))
	shift := strikeDigits - underDigits
	return rawStrike / math.Pow(10, float64(shift))
}
