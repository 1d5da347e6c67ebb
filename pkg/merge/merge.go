// Package merge reconciles divergent revisions of a document. Precedence is
// decided per field by the $times stamps (last writer wins per field), so the
// result never depends on which revision the store happened to pick as winner.
package merge

// MergeTwo combines two revisions field by field. For every field the
// revision with the strictly greater stamp wins value and stamp; on equal
// stamps a wins. Conflict markers are dropped. Neither input is modified.
func MergeTwo(a, b Document) Document {
	out := Document{
		ID:     a.ID,
		Rev:    a.Rev,
		Fields: make(map[string]any, len(a.Fields)),
		Times:  make(Timestamps, len(a.Times)),
	}
	if out.ID == "" {
		out.ID = b.ID
	}

	for _, key := range fieldKeys(a, b) {
		winner := pick(a, b, key)
		if ts, ok := winner.Times[key]; ok {
			out.Times[key] = ts
		}
		// A stamped key without a value is a removed field; it stays removed.
		if v, ok := winner.Fields[key]; ok {
			out.Fields[key] = v
		}
	}
	return out
}

// MergeAll folds MergeTwo left to right. When stamps are distinct the result
// is the same for every input order.
func MergeAll(docs []Document) Document {
	if len(docs) == 0 {
		return Document{Fields: map[string]any{}, Times: Timestamps{}}
	}
	out := MergeTwo(docs[0], Document{})
	for _, d := range docs[1:] {
		out = MergeTwo(out, d)
	}
	return out
}

func pick(a, b Document, key string) Document {
	ta, okA := a.Times[key]
	tb, okB := b.Times[key]
	switch {
	case okA && okB:
		if tb > ta {
			return b
		}
		return a
	case okB:
		return b
	case okA:
		return a
	}
	// Unstamped on both sides: keep whichever actually has a value, a first
	if _, ok := a.Fields[key]; ok {
		return a
	}
	return b
}

func fieldKeys(a, b Document) []string {
	seen := make(map[string]struct{}, len(a.Times)+len(b.Times))
	keys := make([]string, 0, len(a.Times)+len(b.Times))
	add := func(k string) {
		if IsReserved(k) {
			return
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range a.Times {
		add(k)
	}
	for k := range b.Times {
		add(k)
	}
	for k := range a.Fields {
		add(k)
	}
	for k := range b.Fields {
		add(k)
	}
	return keys
}
