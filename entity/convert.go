package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/strata/dialect/sql"
)

type kind uint8

const (
	kindString kind = iota + 1
	kindInt
	kindFloat
	kindBool
	kindTime
	kindUUID
	kindJSON
)

// columnOf maps the Go type of v to a column. Pointer types are nullable.
func columnOf(name string, v any) (sql.Column, kind, bool) {
	switch v.(type) {
	case string:
		return sql.StringColumn(name, 0), kindString, true
	case *string:
		return sql.StringColumn(name, 0).Null(), kindString, true
	case int, int32:
		return sql.IntColumn(name), kindInt, true
	case *int, *int32:
		return sql.IntColumn(name).Null(), kindInt, true
	case int64:
		return sql.BigIntColumn(name), kindInt, true
	case *int64:
		return sql.BigIntColumn(name).Null(), kindInt, true
	case float32:
		return sql.FloatColumn(name), kindFloat, true
	case *float32:
		return sql.FloatColumn(name).Null(), kindFloat, true
	case float64:
		return sql.DoubleColumn(name), kindFloat, true
	case *float64:
		return sql.DoubleColumn(name).Null(), kindFloat, true
	case bool:
		return sql.BoolColumn(name), kindBool, true
	case *bool:
		return sql.BoolColumn(name).Null(), kindBool, true
	case time.Time:
		return sql.DateTimeColumn(name), kindTime, true
	case *time.Time:
		return sql.DateTimeColumn(name).Null(), kindTime, true
	case uuid.UUID:
		return sql.StringColumn(name, 36), kindUUID, true
	case *uuid.UUID:
		return sql.StringColumn(name, 36).Null(), kindUUID, true
	case json.RawMessage, map[string]any, []any:
		return sql.JSONColumn(name), kindJSON, true
	}
	return sql.Column{}, 0, false
}

// toDriver converts a field value to a value every supported driver
// accepts as a parameter.
func toDriver(v any) (any, error) {
	switch v := v.(type) {
	case nil, string, int64, float64, bool, time.Time:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case uuid.UUID:
		return v.String(), nil
	case *string:
		return deref(v, func(s string) (any, error) { return s, nil })
	case *int:
		return deref(v, func(i int) (any, error) { return int64(i), nil })
	case *int32:
		return deref(v, func(i int32) (any, error) { return int64(i), nil })
	case *int64:
		return deref(v, func(i int64) (any, error) { return i, nil })
	case *float32:
		return deref(v, func(f float32) (any, error) { return float64(f), nil })
	case *float64:
		return deref(v, func(f float64) (any, error) { return f, nil })
	case *bool:
		return deref(v, func(b bool) (any, error) { return b, nil })
	case *time.Time:
		return deref(v, func(t time.Time) (any, error) { return t, nil })
	case *uuid.UUID:
		return deref(v, func(u uuid.UUID) (any, error) { return u.String(), nil })
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func deref[X any](p *X, conv func(X) (any, error)) (any, error) {
	if p == nil {
		return nil, nil
	}
	return conv(*p)
}

func checkEnum(v any, values []string) error {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok || !slices.Contains(values, s) {
		return fmt.Errorf("value %v is not one of %q", v, values)
	}
	return nil
}

func marshalJSON(v any) (any, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		if !json.Valid(raw) {
			return nil, errors.New("malformed JSON document")
		}
		return string(raw), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalJSON[V any](dst *V, src any) error {
	var data []byte
	switch src := src.(type) {
	case nil:
		var zero V
		*dst = zero
		return nil
	case []byte:
		data = src
	case string:
		data = []byte(src)
	default:
		return fmt.Errorf("cannot decode JSON from %T", src)
	}
	if raw, ok := any(dst).(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, dst)
}

// assign converts a scanned driver value to the type of dst and stores it.
func assign[V any](dst *V, src any) error {
	switch d := any(dst).(type) {
	case *string:
		return set(d, src, asString)
	case **string:
		return setPtr(d, src, asString)
	case *int:
		return set(d, src, asInt)
	case **int:
		return setPtr(d, src, asInt)
	case *int32:
		return set(d, src, asInt32)
	case **int32:
		return setPtr(d, src, asInt32)
	case *int64:
		return set(d, src, asInt64)
	case **int64:
		return setPtr(d, src, asInt64)
	case *float32:
		return set(d, src, asFloat32)
	case **float32:
		return setPtr(d, src, asFloat32)
	case *float64:
		return set(d, src, asFloat64)
	case **float64:
		return setPtr(d, src, asFloat64)
	case *bool:
		return set(d, src, asBool)
	case **bool:
		return setPtr(d, src, asBool)
	case *time.Time:
		return set(d, src, asTime)
	case **time.Time:
		return setPtr(d, src, asTime)
	case *uuid.UUID:
		return set(d, src, asUUID)
	case **uuid.UUID:
		return setPtr(d, src, asUUID)
	}
	return fmt.Errorf("unsupported field type %T", dst)
}

func set[X any](dst *X, src any, conv func(any) (X, error)) error {
	v, err := conv(src)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setPtr[X any](dst **X, src any, conv func(any) (X, error)) error {
	if src == nil {
		*dst = nil
		return nil
	}
	v, err := conv(src)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

func asString(src any) (string, error) {
	switch v := src.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", src)
}

func asInt64(src any) (int64, error) {
	switch v := src.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("cannot convert %v to an integer", v)
		}
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to int64", src)
}

func asInt(src any) (int, error) {
	v, err := asInt64(src)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt || v > math.MaxInt {
		return 0, fmt.Errorf("%d overflows int", v)
	}
	return int(v), nil
}

func asInt32(src any) (int32, error) {
	v, err := asInt64(src)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%d overflows int32", v)
	}
	return int32(v), nil
}

func asFloat64(src any) (float64, error) {
	switch v := src.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float64", src)
}

func asFloat32(src any) (float32, error) {
	v, err := asFloat64(src)
	if err != nil {
		return 0, err
	}
	if !math.IsInf(v, 0) && math.Abs(v) > math.MaxFloat32 {
		return 0, fmt.Errorf("%g overflows float32", v)
	}
	return float32(v), nil
}

func asBool(src any) (bool, error) {
	switch v := src.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case []byte:
		return strconv.ParseBool(string(v))
	case string:
		return strconv.ParseBool(v)
	}
	return false, fmt.Errorf("cannot convert %T to bool", src)
}

// Layouts of timestamps returned as text, e.g. by SQLite for columns not
// declared with a time type.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func asTime(src any) (time.Time, error) {
	var s string
	switch v := src.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", src)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

func asUUID(src any) (uuid.UUID, error) {
	switch v := src.(type) {
	case nil:
		return uuid.Nil, nil
	case string:
		return uuid.Parse(v)
	case []byte:
		return uuid.ParseBytes(v)
	}
	return uuid.Nil, fmt.Errorf("cannot convert %T to uuid.UUID", src)
}
