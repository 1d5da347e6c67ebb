package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimesKey is the reserved field holding per-field write timestamps
const TimesKey = "$times"

// Timestamps maps a field name to the millisecond epoch of its last write
type Timestamps map[string]int64

// UnmarshalJSON accepts numbers and numeric strings; form posts deliver the latter
func (t *Timestamps) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Timestamps, len(raw))
	for k, v := range raw {
		if string(v) == "null" {
			continue
		}
		var n json.Number
		if len(v) > 0 && v[0] == '"' {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			n = json.Number(s)
		} else if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("%s.%s: %w", TimesKey, k, err)
		}
		ms, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n.String(), 64)
			if ferr != nil {
				return fmt.Errorf("%s.%s: %w", TimesKey, k, err)
			}
			ms = int64(f)
		}
		out[k] = ms
	}
	*t = out
	return nil
}

// Now returns the current time as a $times value
func Now() int64 {
	return time.Now().UnixMilli()
}

// Document is a schemaless application record plus its reserved members.
// Field values are whatever encoding/json produced (numbers kept as json.Number).
type Document struct {
	ID        string
	Rev       string
	Fields    map[string]any
	Times     Timestamps
	Conflicts []string
	Deleted   bool
}

// IsReserved reports whether a key belongs to the store or to the merge bookkeeping
func IsReserved(key string) bool {
	return key == TimesKey || strings.HasPrefix(key, "_")
}

// Clone returns a copy whose maps can be mutated independently
func (d Document) Clone() Document {
	out := Document{
		ID:      d.ID,
		Rev:     d.Rev,
		Deleted: d.Deleted,
		Fields:  make(map[string]any, len(d.Fields)),
		Times:   make(Timestamps, len(d.Times)),
	}
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	for k, v := range d.Times {
		out.Times[k] = v
	}
	if len(d.Conflicts) > 0 {
		out.Conflicts = append([]string(nil), d.Conflicts...)
	}
	return out
}

// Body renders the document as the store expects it on write. Conflict
// markers are never sent; the store recomputes them.
func (d Document) Body() map[string]any {
	body := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		body[k] = v
	}
	if d.ID != "" {
		body["_id"] = d.ID
	}
	if d.Rev != "" {
		body["_rev"] = d.Rev
	}
	times := d.Times
	if times == nil {
		times = Timestamps{}
	}
	body[TimesKey] = times
	if d.Deleted {
		body["_deleted"] = true
	}
	return body
}

// MarshalJSON renders the document for API clients, including any conflict set
func (d Document) MarshalJSON() ([]byte, error) {
	body := d.Body()
	if len(d.Conflicts) > 0 {
		body["_conflicts"] = d.Conflicts
	}
	return json.Marshal(body)
}

// UnmarshalJSON splits a store or API body into fields and reserved members.
// Unknown underscore members (_attachments, _revisions, ...) are dropped.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	out := Document{Fields: make(map[string]any, len(raw)), Times: Timestamps{}}
	for k, v := range raw {
		var err error
		switch k {
		case "_id":
			err = json.Unmarshal(v, &out.ID)
		case "_rev":
			err = json.Unmarshal(v, &out.Rev)
		case "_conflicts":
			err = json.Unmarshal(v, &out.Conflicts)
		case "_deleted":
			err = json.Unmarshal(v, &out.Deleted)
		case TimesKey:
			err = json.Unmarshal(v, &out.Times)
		default:
			if IsReserved(k) {
				continue
			}
			var value any
			vdec := json.NewDecoder(bytes.NewReader(v))
			vdec.UseNumber()
			err = vdec.Decode(&value)
			out.Fields[k] = value
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
	}
	*d = out
	return nil
}

// SameValue compares two field values by their canonical JSON encoding.
// Object keys are sorted by encoding/json, so key order never matters.
func SameValue(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
