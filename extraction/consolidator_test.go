package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func okResults(n int) []RawExtractionResult {
	out := make([]RawExtractionResult, n)
	for i := range out {
		out[i] = RawExtractionResult{
			Ordinal:    i,
			FrameIndex: intPtr(i * 30),
			Timestamp:  floatPtr(float64(i)),
			RawText:    `{"pitch_speed":"9` + string(rune('0'+i)) + ` mph"}`,
		}
	}
	return out
}

func TestParseConsolidated_FencedSingleRecord(t *testing.T) {
	t.Parallel()

	ds, err := ParseConsolidated("```json\n[{\"a\":1}]\n```", okResults(1), true)
	if err != nil {
		t.Fatalf("ParseConsolidated: %v", err)
	}
	if ds.Len() != 1 || len(ds.Columns) != 1 || ds.Columns[0] != "a" {
		t.Fatalf("ds=%+v", ds)
	}
	if ds.Records[0]["a"] != float64(1) {
		t.Fatalf("a=%v", ds.Records[0]["a"])
	}
}

func TestParseConsolidated_RejectsNonTables(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"prose":       "not json",
		"object":      `{"rows":[{"a":1}]}`,
		"scalars":     `[1, 2]`,
		"null record": `[{"a":1}, null]`,
		"truncated":   "```json\n[{\"a\":1},{\"b\":",
		"empty":       "```json\n```",
	}
	for name, in := range cases {
		ds, err := ParseConsolidated(in, okResults(2), true)
		if ds != nil {
			t.Fatalf("%s: expected nil dataset, got %+v", name, ds)
		}
		if !errors.Is(err, ErrNoDataset) {
			t.Fatalf("%s: err=%v", name, err)
		}
		var cpe *ConsolidationParseError
		if !errors.As(err, &cpe) {
			t.Fatalf("%s: err type %T", name, err)
		}
	}
}

func TestParseConsolidated_FlattensAndUnifiesKeys(t *testing.T) {
	t.Parallel()

	in := `[
		{"Pitch Speed": "97 mph", "count": {"balls": 2, "strikes": 1}, "runners": ["1st", "3rd"]},
		{"pitchSpeed": "95 mph", "outs": 1}
	]`
	ds, err := ParseConsolidated(in, okResults(2), true)
	if err != nil {
		t.Fatalf("ParseConsolidated: %v", err)
	}
	wantCols := []string{"pitch_speed", "count.balls", "count.strikes", "runners", "outs"}
	if len(ds.Columns) != len(wantCols) {
		t.Fatalf("Columns=%v", ds.Columns)
	}
	for i, c := range wantCols {
		if ds.Columns[i] != c {
			t.Fatalf("Columns=%v want %v", ds.Columns, wantCols)
		}
	}
	for i, rec := range ds.Records {
		if len(rec) != len(wantCols) {
			t.Fatalf("record %d has %d keys", i, len(rec))
		}
	}
	r0, r1 := ds.Records[0], ds.Records[1]
	if r0["pitch_speed"] != "97 mph" || r1["pitch_speed"] != "95 mph" {
		t.Fatalf("pitch_speed=%v,%v", r0["pitch_speed"], r1["pitch_speed"])
	}
	if r0["count.balls"] != float64(2) || r0["runners"] != "1st, 3rd" {
		t.Fatalf("r0=%v", r0)
	}
	if r0["outs"] != nil || r1["count.balls"] != nil {
		t.Fatalf("missing values should be nil: r0=%v r1=%v", r0, r1)
	}
	if len(ds.Aliases) != 1 || ds.Aliases[0].Column != "pitch_speed" || len(ds.Aliases[0].Aliases) != 2 {
		t.Fatalf("Aliases=%+v", ds.Aliases)
	}
}

func TestParseConsolidated_RawKeysWhenNotNormalizing(t *testing.T) {
	t.Parallel()

	ds, err := ParseConsolidated(`[{"Pitch Speed":"97 mph"},{"pitchSpeed":"95 mph"}]`, okResults(2), false)
	if err != nil {
		t.Fatalf("ParseConsolidated: %v", err)
	}
	if len(ds.Columns) != 2 || ds.Columns[0] != "Pitch Speed" || ds.Columns[1] != "pitchSpeed" {
		t.Fatalf("Columns=%v", ds.Columns)
	}
	if ds.Records[0]["pitchSpeed"] != nil {
		t.Fatalf("expected nil fill, got %v", ds.Records[0]["pitchSpeed"])
	}
}

func TestParseConsolidated_ReinsertsDroppedMarkers(t *testing.T) {
	t.Parallel()

	raw := okResults(3)
	raw[1].RawText = ""
	raw[1].Err = &PerFrameExtractionError{Ordinal: 1, Err: errors.New("timeout")}

	ds, err := ParseConsolidated(`[{"pitch_speed":"90 mph"},{"pitch_speed":"92 mph"}]`, raw, true)
	if err != nil {
		t.Fatalf("ParseConsolidated: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("Len=%d", ds.Len())
	}
	if ds.Records[0]["pitch_speed"] != "90 mph" || ds.Records[2]["pitch_speed"] != "92 mph" {
		t.Fatalf("records=%v", ds.Records)
	}
	mid := ds.Records[1]
	if mid["extraction_error"] != "timeout" || mid["timestamp"] != float64(1) || mid["pitch_speed"] != nil {
		t.Fatalf("placeholder=%v", mid)
	}
	if ds.Records[0]["extraction_error"] != nil {
		t.Fatalf("extraction_error should be nil on good rows")
	}
}

func TestConsolidate_PayloadCarriesFailureMarkers(t *testing.T) {
	t.Parallel()

	raw := okResults(3)
	raw[2].RawText = ""
	raw[2].Err = &PerFrameExtractionError{Ordinal: 2, Err: errors.New("model refused")}

	m := &fakeModel{fn: func(ctx context.Context, req Request) (string, error) {
		return `[{"pitch_speed":"90 mph"},{"pitch_speed":"91 mph"},{"extraction_error":"model refused"}]`, nil
	}}
	ds, err := NewConsolidator(m, ConsolidatorConfig{NormalizeKeys: true}).Consolidate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("Len=%d", ds.Len())
	}

	calls := m.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls=%d", len(calls))
	}
	req := calls[0]
	if len(req.Turns) != 2 || req.Turns[1].Text != consolidationFollowUp {
		t.Fatalf("turns=%+v", req.Turns)
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(req.Turns[0].Text), &items); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items=%d", len(items))
	}
	if items[0]["raw_text"] != `{"pitch_speed":"90 mph"}` || items[0]["timestamp"] != float64(0) {
		t.Fatalf("items[0]=%v", items[0])
	}
	if items[2]["raw_text"] != nil || items[2]["extraction_error"] != "model refused" {
		t.Fatalf("items[2]=%v", items[2])
	}
}

func TestConsolidate_CallFailureMeansNoDataset(t *testing.T) {
	t.Parallel()

	m := &fakeModel{fn: func(ctx context.Context, req Request) (string, error) {
		return "", errors.New("503 service unavailable")
	}}
	ds, err := NewConsolidator(m, ConsolidatorConfig{}).Consolidate(context.Background(), okResults(2))
	if ds != nil || !errors.Is(err, ErrNoDataset) {
		t.Fatalf("ds=%v err=%v", ds, err)
	}
}

func TestConsolidate_NoFramesSkipsModel(t *testing.T) {
	t.Parallel()

	m := &fakeModel{}
	ds, err := NewConsolidator(m, ConsolidatorConfig{}).Consolidate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if ds == nil || ds.Len() != 0 {
		t.Fatalf("ds=%+v", ds)
	}
	if len(m.Calls()) != 0 {
		t.Fatalf("model called for empty input")
	}
}

func TestParseConsolidated_FenceDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	const body = `[{"inning":"3","count":{"balls":2}},{"inning":"4"}]`
	plain, err := ParseConsolidated(body, okResults(2), true)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	fenced, err := ParseConsolidated("```json\n"+body+"\n```", okResults(2), true)
	if err != nil {
		t.Fatalf("fenced: %v", err)
	}
	a, _ := plain.MarshalJSON()
	b, _ := fenced.MarshalJSON()
	if string(a) != string(b) {
		t.Fatalf("plain=%s fenced=%s", a, b)
	}
}
