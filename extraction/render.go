package extraction

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Output formats understood by Render.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Render writes the dataset to w in the given format.
func Render(w io.Writer, ds *Dataset, format string) error {
	if ds == nil {
		return ErrNoDataset
	}
	switch strings.ToLower(format) {
	case "", FormatTable:
		_, err := fmt.Fprintln(w, RenderTable(ds))
		return err
	case FormatJSON:
		b, err := json.MarshalIndent(ds, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case FormatCSV:
		return WriteCSV(w, ds)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// RenderTable draws the dataset as a bordered terminal table, one row per record.
func RenderTable(ds *Dataset) string {
	rows := make([][]string, 0, ds.Len())
	for i := range ds.Records {
		row := make([]string, len(ds.Columns))
		for j, col := range ds.Columns {
			row[j] = ds.Cell(i, col)
		}
		rows = append(rows, row)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(ds.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// WriteCSV writes a header row of column names followed by one line per record.
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return err
	}
	for i := range ds.Records {
		row := make([]string, len(ds.Columns))
		for j, col := range ds.Columns {
			row[j] = ds.Cell(i, col)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatClock renders seconds as m:ss.mmm for status lines. Nil and negative values render as "".
func FormatClock(seconds *float64) string {
	if seconds == nil || *seconds < 0 || math.IsNaN(*seconds) {
		return ""
	}
	ms := int64(math.Round(*seconds * 1000))
	m := ms / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d.%03d", m, s, ms%1000)
}
