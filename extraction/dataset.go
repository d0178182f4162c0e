package extraction

import (
	"encoding/json"
	"sort"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Dataset is the consolidated table. Every record carries every column; nil marks an absent value.
// A nil *Dataset means consolidation failed and there is nothing to query.
type Dataset struct {
	Columns []string
	Records []Record
	// Aliases lists columns that absorbed differently spelled keys during normalization.
	Aliases []KeyAlias
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Cell formats one value for display. Absent values render as "".
func (d *Dataset) Cell(row int, col string) string {
	if d == nil || row < 0 || row >= len(d.Records) {
		return ""
	}
	return formatCell(d.Records[row][col])
}

// MarshalJSON emits the records as an array of objects whose keys follow column order.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	rows := make([]*orderedmap.OrderedMap[string, any], 0, len(d.Records))
	for _, rec := range d.Records {
		om := orderedmap.New[string, any](len(d.Columns))
		for _, col := range d.Columns {
			om.Set(col, rec[col])
		}
		rows = append(rows, om)
	}
	return json.Marshal(rows)
}

// datasetBuilder collects flattened rows and fills in the uniform column set at the end.
type datasetBuilder struct {
	keys    *KeyGlossary
	columns []string
	seen    map[string]struct{}
	records []Record
}

func newDatasetBuilder(normalize bool) *datasetBuilder {
	return &datasetBuilder{keys: NewKeyGlossary(normalize), seen: map[string]struct{}{}}
}

func (b *datasetBuilder) addColumn(col string) {
	if _, ok := b.seen[col]; ok {
		return
	}
	b.seen[col] = struct{}{}
	b.columns = append(b.columns, col)
}

// addRow flattens one decoded object. When two keys fold into the same column the first non-nil value wins.
func (b *datasetBuilder) addRow(row *orderedmap.OrderedMap[string, any]) {
	rec := Record{}
	for pair := row.Oldest(); pair != nil; pair = pair.Next() {
		flattenValue(pair.Key, pair.Value, func(key string, v any) {
			col := b.keys.Canonical(key)
			b.addColumn(col)
			if cur, ok := rec[col]; !ok || cur == nil {
				rec[col] = v
			}
		})
	}
	b.records = append(b.records, rec)
}

func (b *datasetBuilder) addPlaceholder(res RawExtractionResult) Record {
	rec := Record{}
	set := func(key string, v any) {
		col := b.keys.Canonical(key)
		b.addColumn(col)
		rec[col] = v
	}
	if res.Timestamp != nil {
		set("timestamp", *res.Timestamp)
	} else {
		set("timestamp", nil)
	}
	if res.FrameIndex != nil {
		set("frame_index", float64(*res.FrameIndex))
	} else {
		set("frame_index", nil)
	}
	set("extraction_error", res.ErrorText())
	return rec
}

func (b *datasetBuilder) build() *Dataset {
	for _, rec := range b.records {
		for _, col := range b.columns {
			if _, ok := rec[col]; !ok {
				rec[col] = nil
			}
		}
	}
	cols := b.columns
	if cols == nil {
		cols = []string{}
	}
	recs := b.records
	if recs == nil {
		recs = []Record{}
	}
	return &Dataset{Columns: cols, Records: recs, Aliases: b.keys.Merged()}
}

// flattenValue turns nested objects into dotted keys and lists into one string.
func flattenValue(key string, v any, emit func(string, any)) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			emit(key, nil)
			return
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenValue(key+"."+k, t[k], emit)
		}
	case *orderedmap.OrderedMap[string, any]:
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			flattenValue(key+"."+pair.Key, pair.Value, emit)
		}
	case []any:
		emit(key, listText(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			emit(key, t.String())
			return
		}
		emit(key, f)
	default:
		emit(key, v)
	}
}

// listText joins scalar lists with ", " and falls back to compact JSON for anything nested.
func listText(xs []any) any {
	if len(xs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(xs))
	for _, x := range xs {
		switch x.(type) {
		case map[string]any, []any:
			b, err := json.Marshal(xs)
			if err != nil {
				return nil
			}
			return string(b)
		}
		parts = append(parts, formatCell(x))
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
