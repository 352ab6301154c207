// Package models - report.go defines the Report model: an ingested sales report row whose
// columns are an ordered, schema-less mapping of names to typed values.
package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SalesCodeField is the column name under which ingested reports carry the submitter's code
const SalesCodeField = "Sales Code"

// ValueKind discriminates the variants a report cell can hold
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindTimestamp
	// KindOther holds nested objects and arrays as raw JSON text
	KindOther
)

// Value is a single report cell
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
	Raw  json.RawMessage
}

func NullValue() Value { return Value{Kind: KindNull} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func TimestampValue(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t} }

// timestampJSON is the document-store export shape of a timestamp
type timestampJSON struct {
	Seconds     int64 `json:"_seconds"`
	Nanoseconds int64 `json:"_nanoseconds"`
}

// String renders the value with plain Go formatting; display formatting lives in the reports package
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTimestamp:
		return v.Time.UTC().Format(time.RFC3339)
	case KindOther:
		return string(v.Raw)
	}
	return ""
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTimestamp:
		return json.Marshal(timestampJSON{
			Seconds:     v.Time.Unix(),
			Nanoseconds: int64(v.Time.Nanosecond()),
		})
	case KindOther:
		if len(v.Raw) == 0 {
			return []byte("null"), nil
		}
		return v.Raw, nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes one JSON value into a Value variant
func ParseValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return NullValue(), nil
	}

	switch data[0] {
	case 'n':
		return NullValue(), nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case '{':
		if ts, ok := parseTimestamp(data); ok {
			return TimestampValue(ts), nil
		}
		return Value{Kind: KindOther, Raw: append(json.RawMessage(nil), data...)}, nil
	case '[':
		return Value{Kind: KindOther, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid report value %q: %w", string(data), err)
	}
	return NumberValue(n), nil
}

// parseTimestamp recognises {"_seconds", "_nanoseconds"} objects (with or without the underscore)
func parseTimestamp(data []byte) (time.Time, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || len(obj) != 2 {
		return time.Time{}, false
	}

	secRaw, ok := obj["_seconds"]
	if !ok {
		secRaw, ok = obj["seconds"]
	}
	if !ok {
		return time.Time{}, false
	}
	nsRaw, ok := obj["_nanoseconds"]
	if !ok {
		nsRaw, ok = obj["nanoseconds"]
	}
	if !ok {
		return time.Time{}, false
	}

	var sec, ns int64
	if json.Unmarshal(secRaw, &sec) != nil || json.Unmarshal(nsRaw, &ns) != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, ns).UTC(), true
}

// Field is a named report cell
type Field struct {
	Key   string
	Value Value
}

// Fields is the ordered column mapping of a report. Key order is the order in which the
// ingestion process wrote the columns.
type Fields []Field

// Get returns the value stored under key
func (f Fields) Get(key string) (Value, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return Value{}, false
}

// Lookup resolves a column header against the record: the header verbatim first, then with
// spaces replaced by underscores.
func (f Fields) Lookup(header string) (Value, bool) {
	if v, ok := f.Get(header); ok {
		return v, true
	}
	alt := strings.ReplaceAll(header, " ", "_")
	if alt != header {
		return f.Get(alt)
	}
	return Value{}, false
}

// Set replaces the value under key or appends a new column
func (f *Fields) Set(key string, v Value) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = v
			return
		}
	}
	*f = append(*f, Field{Key: key, Value: v})
}

// MarshalJSON writes the columns as a JSON object preserving their order
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := field.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the key order of the source document
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("report fields must be a JSON object")
	}

	out := make(Fields, 0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected report field key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("report field %q: %w", key, err)
		}
		v, err := ParseValue(raw)
		if err != nil {
			return fmt.Errorf("report field %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out
	return nil
}

// Scan implements sql.Scanner for JSON columns
func (f *Fields) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		return f.UnmarshalJSON(s)
	case string:
		return f.UnmarshalJSON([]byte(s))
	}
	return fmt.Errorf("cannot scan %T into report fields", src)
}

// Value implements driver.Valuer
func (f Fields) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return f.MarshalJSON()
}

// Report is one ingested sales report row
type Report struct {
	ID        string    `json:"id" db:"id"`
	SalesCode string    `json:"sales_code" db:"sales_code"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Fields    Fields    `json:"fields" db:"data"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
