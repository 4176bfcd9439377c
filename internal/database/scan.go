package database

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// timestampLayout renders UTC times as round-trip ISO-8601 with seven
// fractional digits, e.g. 2024-01-02T03:04:05.0000000Z.
const timestampLayout = "2006-01-02T15:04:05.0000000Z07:00"

// unzonedLayout accepts round-trip strings written without an offset; they are
// read as UTC.
const unzonedLayout = "2006-01-02T15:04:05.999999999"

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp reads a stored timestamp. ok is false when the value is not
// a round-trip ISO-8601 string.
func parseTimestamp(raw any) (time.Time, bool) {
	if t, isTime := raw.(time.Time); isTime {
		return t.UTC(), true
	}

	s := strings.TrimSpace(asString(raw))
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.ParseInLocation(unzonedLayout, s, time.UTC); err == nil {
		return t, true
	}

	return time.Time{}, false
}

func asString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return formatTimestamp(v)
	default:
		return fmt.Sprint(v)
	}
}

// asInt coerces the native representations SQLite may hand back for an
// integer column. ok is false when the value had to be replaced by zero.
func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		return floatToInt(v)
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string, []byte:
		s := strings.TrimSpace(asString(v))
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

// floatToInt truncates f. NaN, infinities and values outside the int range
// are not representable and yield (0, false).
func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || f >= math.MaxInt || f < math.MinInt {
		return 0, false
	}
	return int(f), true
}

// asDecimal coerces a stored amount. NULL reads as zero.
func asDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, true
	case int64:
		return decimal.NewFromInt(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case string, []byte:
		s := strings.TrimSpace(asString(v))
		if s == "" {
			return decimal.Zero, true
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
