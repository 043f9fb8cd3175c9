package internal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WriteCSV stores t at path with a header row. Null cells are written as
// empty fields.
func WriteCSV(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.ColumnNames()); err != nil {
		f.Close()
		return err
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, c := range row {
			record[i] = formatCell(t.columns[i].Kind, c)
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatCell(kind ColumnKind, c Cell) string {
	if c.Null {
		return ""
	}
	if kind == ColumnNumber {
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	}
	return c.Str
}

// ReadCSV loads a processed artifact written by WriteCSV. A column is numeric
// when it is one of the known numeric columns or every non-empty value parses
// as a number.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, errors.New("processed artifact has no header")
	}

	header := records[0]
	body := records[1:]
	columns := make([]Column, len(header))
	for i, name := range header {
		columns[i] = Column{Name: name, Kind: inferKind(name, body, i)}
	}

	t := NewTable(columns...)
	for n, rec := range body {
		row := make([]Cell, len(columns))
		for i, col := range columns {
			row[i] = parseCell(col, rec[i])
			if col.Kind == ColumnNumber && !row[i].Null {
				continue
			}
			if col.Kind == ColumnNumber && strings.TrimSpace(rec[i]) != "" {
				return nil, fmt.Errorf("line %d: %s=%q is not a number", n+2, col.Name, rec[i])
			}
		}
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}

var numericColumns = map[string]bool{
	ColLP: true, ColWins: true, ColLosses: true, ColTotalGames: true, ColWinRate: true,
}

func inferKind(name string, body [][]string, idx int) ColumnKind {
	if numericColumns[name] {
		return ColumnNumber
	}
	if name == ColPlayerName || name == ColSummonerID {
		return ColumnString
	}
	seen := false
	for _, rec := range body {
		v := strings.TrimSpace(rec[idx])
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return ColumnString
		}
		seen = true
	}
	if seen {
		return ColumnNumber
	}
	return ColumnString
}

func parseCell(col Column, v string) Cell {
	if col.Kind == ColumnString {
		return StringCell(v)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return NullCell()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return NullCell()
	}
	return NumberCell(f)
}
