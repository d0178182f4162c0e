package extraction

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func renderDataset() *Dataset {
	return &Dataset{
		Columns: []string{"inning", "pitch_speed"},
		Records: []Record{
			{"inning": float64(3), "pitch_speed": "97 mph"},
			{"inning": nil, "pitch_speed": "88 mph, 91 mph"},
		},
	}
}

func TestRender_CSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Render(&buf, renderDataset(), FormatCSV); err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "inning,pitch_speed\n3,97 mph\n,\"88 mph, 91 mph\"\n"
	if buf.String() != want {
		t.Fatalf("csv=%q want %q", buf.String(), want)
	}
}

func TestRender_Table(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Render(&buf, renderDataset(), FormatTable); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"inning", "pitch_speed", "97 mph", "88 mph, 91 mph"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
}

func TestDatasetJSON_KeepsColumnOrder(t *testing.T) {
	t.Parallel()

	ds := &Dataset{Columns: []string{"b", "a"}, Records: []Record{{"b": float64(1), "a": nil}}}
	b, err := ds.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != `[{"b":1,"a":null}]` {
		t.Fatalf("json=%s", b)
	}
}

func TestRender_NilDataset(t *testing.T) {
	t.Parallel()

	if err := Render(&bytes.Buffer{}, nil, FormatJSON); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("err=%v", err)
	}
}

func TestFormatClock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   *float64
		want string
	}{
		{floatPtr(65.5), "1:05.500"},
		{floatPtr(0), "0:00.000"},
		{floatPtr(3599.9994), "59:59.999"},
		{floatPtr(-1), ""},
		{nil, ""},
	}
	for _, c := range cases {
		if got := FormatClock(c.in); got != c.want {
			t.Fatalf("FormatClock(%v)=%q want %q", c.in, got, c.want)
		}
	}
}
