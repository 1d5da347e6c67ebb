package merge

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func doc(fields map[string]any, times Timestamps) Document {
	return Document{ID: "doc", Fields: fields, Times: times}
}

func TestMergeTwo(t *testing.T) {
	tests := []struct {
		name       string
		a, b       Document
		wantFields map[string]any
		wantTimes  Timestamps
	}{
		{
			name:       "newer field wins per field",
			a:          doc(map[string]any{"name": "Ann", "age": 30}, Timestamps{"name": 10, "age": 20}),
			b:          doc(map[string]any{"name": "Anne", "age": 31}, Timestamps{"name": 15, "age": 5}),
			wantFields: map[string]any{"name": "Anne", "age": 30},
			wantTimes:  Timestamps{"name": 15, "age": 20},
		},
		{
			name:       "tie keeps the first argument",
			a:          doc(map[string]any{"x": 1}, Timestamps{"x": 7}),
			b:          doc(map[string]any{"x": 2}, Timestamps{"x": 7}),
			wantFields: map[string]any{"x": 1},
			wantTimes:  Timestamps{"x": 7},
		},
		{
			name:       "field only on one side is kept",
			a:          doc(map[string]any{"x": 1}, Timestamps{"x": 1}),
			b:          doc(map[string]any{"y": 2}, Timestamps{"y": 2}),
			wantFields: map[string]any{"x": 1, "y": 2},
			wantTimes:  Timestamps{"x": 1, "y": 2},
		},
		{
			name:       "newer removal stays removed",
			a:          doc(map[string]any{"x": 1, "keep": true}, Timestamps{"x": 1, "keep": 1}),
			b:          doc(map[string]any{"keep": true}, Timestamps{"x": 9, "keep": 1}),
			wantFields: map[string]any{"keep": true},
			wantTimes:  Timestamps{"x": 9, "keep": 1},
		},
		{
			name:       "older removal loses to a value",
			a:          doc(map[string]any{}, Timestamps{"x": 1}),
			b:          doc(map[string]any{"x": "back"}, Timestamps{"x": 2}),
			wantFields: map[string]any{"x": "back"},
			wantTimes:  Timestamps{"x": 2},
		},
		{
			name:       "unstamped fields survive",
			a:          doc(map[string]any{}, Timestamps{}),
			b:          doc(map[string]any{"legacy": "v"}, Timestamps{}),
			wantFields: map[string]any{"legacy": "v"},
			wantTimes:  Timestamps{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeTwo(tt.a, tt.b)
			assert.Equal(t, tt.wantFields, got.Fields)
			assert.Equal(t, tt.wantTimes, got.Times)
			assert.Empty(t, got.Conflicts)
		})
	}
}

func TestMergeTwoDoesNotModifyInputs(t *testing.T) {
	a := doc(map[string]any{"x": 1}, Timestamps{"x": 1})
	b := doc(map[string]any{"x": 2}, Timestamps{"x": 2})
	a.Conflicts = []string{"2-b"}

	got := MergeTwo(a, b)
	got.Fields["x"] = 99

	assert.Equal(t, map[string]any{"x": 1}, a.Fields)
	assert.Equal(t, map[string]any{"x": 2}, b.Fields)
	assert.Equal(t, []string{"2-b"}, a.Conflicts)
}

func TestMergeTwoKeepsFirstIdentity(t *testing.T) {
	a := Document{ID: "doc", Rev: "3-a", Fields: map[string]any{}, Times: Timestamps{}}
	b := Document{ID: "doc", Rev: "3-b", Fields: map[string]any{}, Times: Timestamps{}}

	got := MergeTwo(a, b)
	assert.Equal(t, "doc", got.ID)
	assert.Equal(t, "3-a", got.Rev)
}

func TestMergeAll(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got := MergeAll(nil)
		assert.Empty(t, got.Fields)
		assert.Empty(t, got.Times)
	})

	t.Run("single drops conflicts", func(t *testing.T) {
		d := doc(map[string]any{"x": 1}, Timestamps{"x": 1})
		d.Conflicts = []string{"1-zz"}
		got := MergeAll([]Document{d})
		assert.Equal(t, d.Fields, got.Fields)
		assert.Empty(t, got.Conflicts)
	})

	t.Run("three branches", func(t *testing.T) {
		got := MergeAll([]Document{
			doc(map[string]any{"a": 1, "b": 1, "c": 1}, Timestamps{"a": 3, "b": 1, "c": 1}),
			doc(map[string]any{"a": 2, "b": 2, "c": 2}, Timestamps{"a": 1, "b": 3, "c": 1}),
			doc(map[string]any{"a": 3, "b": 3, "c": 3}, Timestamps{"a": 1, "b": 1, "c": 3}),
		})
		assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, got.Fields)
		assert.Equal(t, Timestamps{"a": 3, "b": 3, "c": 3}, got.Times)
	})
}

var propertyKeys = []string{"name", "age", "city", "vip"}

// buildBranches turns generated stamps into three revisions over the same
// keys. Stamps are made unique by folding the slot index into the low bits.
func buildBranches(raw []int64, present []bool) []Document {
	docs := make([]Document, 3)
	for d := range docs {
		docs[d] = Document{ID: "doc", Fields: map[string]any{}, Times: Timestamps{}}
		for k, key := range propertyKeys {
			slot := d*len(propertyKeys) + k
			docs[d].Times[key] = raw[slot]*16 + int64(slot)
			if present[slot] {
				docs[d].Fields[key] = fmt.Sprintf("%d-%s", d, key)
			}
		}
	}
	return docs
}

// TestMergeProperties checks the algebra the replication layer relies on
func TestMergeProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	slots := 3 * len(propertyKeys)

	properties.Property("merge result is independent of branch order", prop.ForAll(
		func(raw []int64, present []bool) bool {
			docs := buildBranches(raw, present)
			want := MergeAll(docs)
			orders := [][]int{{0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
			for _, order := range orders {
				got := MergeAll([]Document{docs[order[0]], docs[order[1]], docs[order[2]]})
				if !assert.ObjectsAreEqual(want.Fields, got.Fields) || !assert.ObjectsAreEqual(want.Times, got.Times) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(slots, gen.Int64Range(0, 1<<40)),
		gen.SliceOfN(slots, gen.Bool()),
	))

	properties.Property("merging an input back in changes nothing", prop.ForAll(
		func(raw []int64, present []bool) bool {
			docs := buildBranches(raw, present)
			ab := MergeTwo(docs[0], docs[1])
			for _, again := range []Document{MergeTwo(ab, docs[0]), MergeTwo(ab, docs[1])} {
				if !assert.ObjectsAreEqual(ab.Fields, again.Fields) || !assert.ObjectsAreEqual(ab.Times, again.Times) {
					return false
				}
			}
			self := MergeTwo(docs[2], docs[2])
			return assert.ObjectsAreEqual(docs[2].Fields, self.Fields) && assert.ObjectsAreEqual(docs[2].Times, self.Times)
		},
		gen.SliceOfN(slots, gen.Int64Range(0, 1<<40)),
		gen.SliceOfN(slots, gen.Bool()),
	))

	properties.Property("every field carries the greatest stamp", prop.ForAll(
		func(raw []int64, present []bool) bool {
			docs := buildBranches(raw, present)
			got := MergeAll(docs)
			for _, key := range propertyKeys {
				var max int64
				var owner Document
				for _, d := range docs {
					if d.Times[key] > max {
						max = d.Times[key]
						owner = d
					}
				}
				if got.Times[key] != max {
					return false
				}
				want, ok := owner.Fields[key]
				have, gotOK := got.Fields[key]
				if ok != gotOK || want != have {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(slots, gen.Int64Range(0, 1<<40)),
		gen.SliceOfN(slots, gen.Bool()),
	))

	properties.TestingRun(t)
}
