package internal

import (
	"fmt"
	"math"
	"sort"
)

type ColumnKind int

const (
	ColumnString ColumnKind = iota
	ColumnNumber
)

func (k ColumnKind) String() string {
	if k == ColumnNumber {
		return "number"
	}
	return "string"
}

type Column struct {
	Name string
	Kind ColumnKind
}

// Cell holds one value. Str is used by string columns, Num by number
// columns; Null marks a missing value of either kind.
type Cell struct {
	Str  string
	Num  float64
	Null bool
}

func StringCell(s string) Cell { return Cell{Str: s} }

func NumberCell(f float64) Cell { return Cell{Num: f} }

func NullCell() Cell { return Cell{Null: true} }

// Table is the batch unit handed from stage to stage. Stages that change a
// table work on a Clone so the caller's copy is never mutated.
type Table struct {
	columns []Column
	rows    [][]Cell
}

func NewTable(columns ...Column) *Table {
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Table{columns: cols}
}

func (t *Table) Columns() []Column {
	cols := make([]Column, len(t.columns))
	copy(cols, t.columns)
	return cols
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

func (t *Table) Index(name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) Has(name string) bool {
	return t.Index(name) >= 0
}

func (t *Table) Kind(name string) (ColumnKind, bool) {
	idx := t.Index(name)
	if idx < 0 {
		return ColumnString, false
	}
	return t.columns[idx].Kind, true
}

func (t *Table) AppendRow(cells []Cell) error {
	if len(cells) != len(t.columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(cells), len(t.columns))
	}
	row := make([]Cell, len(cells))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return nil
}

func (t *Table) Row(i int) []Cell {
	return t.rows[i]
}

func (t *Table) Cell(row int, name string) (Cell, bool) {
	idx := t.Index(name)
	if idx < 0 {
		return Cell{}, false
	}
	return t.rows[row][idx], true
}

func (t *Table) Set(row int, name string, c Cell) {
	idx := t.Index(name)
	if idx < 0 {
		return
	}
	t.rows[row][idx] = c
}

// AddColumn appends col, or overwrites it in place when it already exists.
func (t *Table) AddColumn(col Column, fill func(row int) Cell) {
	idx := t.Index(col.Name)
	if idx < 0 {
		t.columns = append(t.columns, col)
		idx = len(t.columns) - 1
		for i := range t.rows {
			t.rows[i] = append(t.rows[i], Cell{})
		}
	} else {
		t.columns[idx] = col
	}
	for i := range t.rows {
		t.rows[i][idx] = fill(i)
	}
}

// DropColumns removes the named columns and returns how many existed.
func (t *Table) DropColumns(names ...string) int {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	keep := make([]int, 0, len(t.columns))
	cols := make([]Column, 0, len(t.columns))
	for i, c := range t.columns {
		if !drop[c.Name] {
			keep = append(keep, i)
			cols = append(cols, c)
		}
	}
	dropped := len(t.columns) - len(cols)
	if dropped == 0 {
		return 0
	}

	for r, row := range t.rows {
		next := make([]Cell, len(keep))
		for j, idx := range keep {
			next[j] = row[idx]
		}
		t.rows[r] = next
	}
	t.columns = cols
	return dropped
}

func (t *Table) Clone() *Table {
	out := NewTable(t.columns...)
	out.rows = make([][]Cell, len(t.rows))
	for i, row := range t.rows {
		out.rows[i] = make([]Cell, len(row))
		copy(out.rows[i], row)
	}
	return out
}

// SortDesc orders rows by a number column, largest first, nulls last.
// Equal values keep their input order.
func (t *Table) SortDesc(name string) {
	idx := t.Index(name)
	if idx < 0 {
		return
	}
	sort.SliceStable(t.rows, func(i, j int) bool {
		a, b := t.rows[i][idx], t.rows[j][idx]
		if a.Null || b.Null {
			return !a.Null && b.Null
		}
		return a.Num > b.Num
	})
}

// Records converts the table into PlayerRecords. Numeric columns are rounded
// to integers where the record field is integral; absent optional columns
// stay zero.
func (t *Table) Records() ([]PlayerRecord, error) {
	for _, required := range []string{ColPlayerName, ColSummonerID, ColLP} {
		if !t.Has(required) {
			return nil, fmt.Errorf("table is missing column %s", required)
		}
	}

	records := make([]PlayerRecord, 0, t.Len())
	for i := range t.rows {
		var rec PlayerRecord
		rec.PlayerName = t.str(i, ColPlayerName)
		rec.SummonerID = t.str(i, ColSummonerID)
		rec.LP = int(math.Round(t.num(i, ColLP)))
		rec.Wins = int(math.Round(t.num(i, ColWins)))
		rec.Losses = int(math.Round(t.num(i, ColLosses)))
		rec.TotalGames = int(math.Round(t.num(i, ColTotalGames)))
		rec.WinRate = t.num(i, ColWinRate)
		records = append(records, rec)
	}
	return records, nil
}

func (t *Table) str(row int, name string) string {
	c, ok := t.Cell(row, name)
	if !ok || c.Null {
		return ""
	}
	return c.Str
}

func (t *Table) num(row int, name string) float64 {
	c, ok := t.Cell(row, name)
	if !ok || c.Null {
		return 0
	}
	return c.Num
}

// PlayerColumns is the persisted column order (updated_at is stamped by the
// store, not carried in the table).
func PlayerColumns() []Column {
	return []Column{
		{Name: ColPlayerName, Kind: ColumnString},
		{Name: ColSummonerID, Kind: ColumnString},
		{Name: ColLP, Kind: ColumnNumber},
		{Name: ColWins, Kind: ColumnNumber},
		{Name: ColLosses, Kind: ColumnNumber},
		{Name: ColTotalGames, Kind: ColumnNumber},
		{Name: ColWinRate, Kind: ColumnNumber},
	}
}

func TableFromRecords(records []PlayerRecord) *Table {
	t := NewTable(PlayerColumns()...)
	for _, r := range records {
		t.rows = append(t.rows, []Cell{
			StringCell(r.PlayerName),
			StringCell(r.SummonerID),
			NumberCell(float64(r.LP)),
			NumberCell(float64(r.Wins)),
			NumberCell(float64(r.Losses)),
			NumberCell(float64(r.TotalGames)),
			NumberCell(r.WinRate),
		})
	}
	return t
}
