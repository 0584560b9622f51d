// Package coerce приводит сырые значения колонок к семантическим типам полей сущности.
package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrMismatch = errors.New("type mismatch")

var layouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"15:04:05",
}

// Value приводит raw к типу поля kind (string, int, float, money, bool, date,
// datetime, enum, ref, array). code: объявленный тип колонки.
func Value(kind string, code Code, raw any) (any, error) {
	if raw == nil {
		return Zero(kind), nil
	}
	switch strings.ToLower(kind) {
	case "string", "enum", "ref":
		return toString(code, raw)
	case "int":
		return toInt(raw)
	case "float", "money":
		return toFloat(raw)
	case "bool":
		return toBool(raw)
	case "date", "datetime":
		return toTime(code, raw)
	case "array":
		return toStrings(raw)
	default:
		// неизвестный тип: оставим как есть
		return raw, nil
	}
}

// Zero: нулевое значение для типа поля.
func Zero(kind string) any {
	switch strings.ToLower(kind) {
	case "string", "enum", "ref":
		return ""
	case "int":
		return int64(0)
	case "float", "money":
		return float64(0)
	case "bool":
		return false
	case "date", "datetime":
		return time.Time{}
	case "array":
		return []string(nil)
	}
	return nil
}

// Format: строковое представление значения (ключи, логи, SQL-параметры).
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func mismatch(raw any, want string) error {
	return fmt.Errorf("%w: %v (%T) is not %s", ErrMismatch, raw, raw, want)
}

func toString(code Code, raw any) (string, error) {
	switch t := raw.(type) {
	case time.Time:
		if code == Date || code == NewDate {
			return t.Format("2006-01-02"), nil
		}
		return t.Format(time.RFC3339Nano), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	}
	return Format(raw), nil
}

func toInt(raw any) (int64, error) {
	switch t := raw.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, mismatch(raw, "an integer")
		}
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, mismatch(raw, "an integer")
		}
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, mismatch(raw, "an integer")
		}
		return n, nil
	case []byte:
		return toInt(string(t))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, mismatch(raw, "an integer")
		}
		return n, nil
	}
	return 0, mismatch(raw, "an integer")
}

func toFloat(raw any) (float64, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, mismatch(raw, "a number")
		}
		return f, nil
	case []byte:
		return toFloat(string(t))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, mismatch(raw, "a number")
		}
		return f, nil
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, mismatch(raw, "a number")
	}
	return float64(n), nil
}

func toBool(raw any) (bool, error) {
	switch t := raw.(type) {
	case bool:
		return t, nil
	case []byte:
		// BIT(n) приходит байтами
		for _, b := range t {
			if b != 0 && b != '0' {
				return true, nil
			}
		}
		return false, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off", "":
			return false, nil
		}
		return false, mismatch(raw, "a boolean")
	}
	n, err := toInt(raw)
	if err != nil {
		return false, mismatch(raw, "a boolean")
	}
	return n != 0, nil
}

func toTime(code Code, raw any) (time.Time, error) {
	switch t := raw.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return toTime(code, string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, l := range layouts {
			if ts, err := time.Parse(l, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromNumber(code, n), nil
		}
		return time.Time{}, mismatch(raw, "a date")
	}
	n, err := toInt(raw)
	if err != nil {
		return time.Time{}, mismatch(raw, "a date")
	}
	return fromNumber(code, n), nil
}

// числовые даты: для YEAR это год, иначе epoch millis
func fromNumber(code Code, n int64) time.Time {
	if code == Year {
		return time.Date(int(n), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.UnixMilli(n).UTC()
}

func toStrings(raw any) ([]string, error) {
	switch t := raw.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			out = append(out, Format(it))
		}
		return out, nil
	case []byte:
		return toStrings(string(t))
	case string:
		// JSON-массив (jsonb sql-sink'а)
		if s := strings.TrimSpace(t); strings.HasPrefix(s, "[") {
			var items []any
			if err := json.Unmarshal([]byte(s), &items); err == nil {
				return toStrings(items)
			}
		}
		// SET и CSV: "a,b,c"
		if strings.TrimSpace(t) == "" {
			return []string{}, nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	}
	return nil, mismatch(raw, "an array")
}
