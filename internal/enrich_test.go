package internal

import (
	"errors"
	"math"
	"testing"
)

func enrichTable(t *testing.T, rows ...[]Cell) *Table {
	t.Helper()
	tbl := NewTable(
		Column{Name: ColPlayerName, Kind: ColumnString},
		Column{Name: ColSummonerID, Kind: ColumnString},
		Column{Name: ColLP, Kind: ColumnNumber},
		Column{Name: ColWins, Kind: ColumnNumber},
		Column{Name: ColLosses, Kind: ColumnNumber},
	)
	for _, r := range rows {
		if err := tbl.AppendRow(r); err != nil {
			t.Fatal(err)
		}
	}
	return tbl
}

func row(id string, lp, wins, losses Cell) []Cell {
	return []Cell{StringCell("p-" + id), StringCell(id), lp, wins, losses}
}

func num(f float64) Cell { return NumberCell(f) }

func TestWinRate(t *testing.T) {
	tests := []struct {
		wins, total float64
		expected    float64
	}{
		{7, 10, 70},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{10, 10, 100},
		{0, 0, 0},
	}

	for _, tt := range tests {
		if got := WinRate(tt.wins, tt.total); got != tt.expected {
			t.Errorf("WinRate(%v, %v) = %v, expected %v", tt.wins, tt.total, got, tt.expected)
		}
	}
}

func TestEnricher_EndToEndScenario(t *testing.T) {
	cfg := createTestConfig(t)
	logger := createTestLogger()

	normalized, err := NewNormalizer(logger, nil).Normalize([]RawEntry{
		rawEntry("summonerId", "A", "wins", float64(10), "losses", float64(0)),
		rawEntry("summonerId", "B", "wins", float64(0), "losses", float64(0)),
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	out, err := NewEnricher(cfg, logger).Enrich(normalized.Table)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	records, err := out.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	a, b := records[0], records[1]
	if a.SummonerID != "A" || a.TotalGames != 10 || a.WinRate != 100.0 {
		t.Errorf("unexpected A: %+v", a)
	}
	if b.SummonerID != "B" || b.TotalGames != 0 || b.WinRate != 0.0 {
		t.Errorf("unexpected B: %+v", b)
	}
	if !NewValidator(logger).Validate(out) {
		t.Error("expected both rows to be valid")
	}
}

func TestEnricher_SortsByLPAndKeepsInputUntouched(t *testing.T) {
	cfg := createTestConfig(t)
	in := enrichTable(t,
		row("low", num(100), num(5), num(5)),
		row("high", num(900), num(30), num(10)),
		row("mid", num(500), num(1), num(3)),
	)

	out, err := NewEnricher(cfg, createTestLogger()).Enrich(in)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	for i, id := range []string{"high", "mid", "low"} {
		if c, _ := out.Cell(i, ColSummonerID); c.Str != id {
			t.Errorf("row %d: expected %s, got %s", i, id, c.Str)
		}
	}
	if c, _ := out.Cell(1, ColWinRate); c.Num != 25 {
		t.Errorf("expected mid win_rate 25, got %v", c.Num)
	}
	if in.Has(ColTotalGames) {
		t.Error("input table must not gain derived columns")
	}
	if c, _ := in.Cell(0, ColSummonerID); c.Str != "low" {
		t.Error("input table must not be reordered")
	}
}

func TestEnricher_DerivedColumnsConsistent(t *testing.T) {
	cfg := createTestConfig(t)
	in := enrichTable(t,
		row("a", num(10), num(3), num(9)),
		row("b", num(20), num(0), num(4)),
		row("c", num(30), num(11), num(0)),
	)

	out, err := NewEnricher(cfg, createTestLogger()).Enrich(in)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	for i := 0; i < out.Len(); i++ {
		wins, _ := out.Cell(i, ColWins)
		losses, _ := out.Cell(i, ColLosses)
		total, _ := out.Cell(i, ColTotalGames)
		rate, _ := out.Cell(i, ColWinRate)
		if total.Num != wins.Num+losses.Num {
			t.Errorf("row %d: total_games %v != %v+%v", i, total.Num, wins.Num, losses.Num)
		}
		if rate.Num < 0 || rate.Num > 100 {
			t.Errorf("row %d: win_rate %v out of range", i, rate.Num)
		}
	}
}

func TestEnricher_ZeroFillsNullsWithoutImputation(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.ImputeMissing = false
	logger, buf := createCapturingLogger()

	out, err := NewEnricher(cfg, logger).Enrich(enrichTable(t,
		row("a", num(10), NullCell(), num(4)),
	))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	if c, _ := out.Cell(0, ColWins); c.Null || c.Num != 0 {
		t.Errorf("expected wins zero-filled, got %+v", c)
	}
	if c, _ := out.Cell(0, ColWinRate); c.Num != 0 {
		t.Errorf("expected win_rate 0, got %v", c.Num)
	}
	if _, ok := findLog(logEntries(t, buf), "numeric_nulls_zero_filled"); !ok {
		t.Error("expected a zero-fill warning")
	}
}

func TestEnricher_KNNImputation(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.ImputeMissing = true
	cfg.KNNNeighbors = 2

	out, err := NewEnricher(cfg, createTestLogger()).Enrich(enrichTable(t,
		row("r0", num(100), num(10), num(10)),
		row("r1", num(110), num(12), num(8)),
		row("r2", num(500), num(50), num(20)),
		row("r3", num(105), NullCell(), num(9)),
	))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	var found bool
	for i := 0; i < out.Len(); i++ {
		id, _ := out.Cell(i, ColSummonerID)
		if id.Str != "r3" {
			continue
		}
		found = true
		wins, _ := out.Cell(i, ColWins)
		total, _ := out.Cell(i, ColTotalGames)
		rate, _ := out.Cell(i, ColWinRate)
		if wins.Num != 11 {
			t.Errorf("expected wins imputed from r0 and r1 as 11, got %v", wins.Num)
		}
		if total.Num != 20 || rate.Num != 55 {
			t.Errorf("expected total 20 and win_rate 55, got %v %v", total.Num, rate.Num)
		}
	}
	if !found {
		t.Fatal("row r3 missing from output")
	}
}

func TestEnricher_KNNHalfMeansRoundBeforeDerivation(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.ImputeMissing = true
	cfg.KNNNeighbors = 2

	// r0 and r1 are nearest to r3 on lp; their means are wins 10.5, losses 3.5.
	out, err := NewEnricher(cfg, createTestLogger()).Enrich(enrichTable(t,
		row("r0", num(100), num(10), num(3)),
		row("r1", num(110), num(11), num(4)),
		row("r2", num(500), num(50), num(20)),
		row("r3", num(105), NullCell(), NullCell()),
	))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	for i := 0; i < out.Len(); i++ {
		wins, _ := out.Cell(i, ColWins)
		losses, _ := out.Cell(i, ColLosses)
		total, _ := out.Cell(i, ColTotalGames)
		rate, _ := out.Cell(i, ColWinRate)
		if wins.Num != math.Round(wins.Num) || losses.Num != math.Round(losses.Num) {
			t.Errorf("row %d: wins/losses must be whole numbers, got %v/%v", i, wins.Num, losses.Num)
		}
		if total.Num != wins.Num+losses.Num {
			t.Errorf("row %d: total_games %v != wins+losses %v", i, total.Num, wins.Num+losses.Num)
		}
		if rate.Num != WinRate(wins.Num, total.Num) {
			t.Errorf("row %d: win_rate %v does not match wins", i, rate.Num)
		}

		id, _ := out.Cell(i, ColSummonerID)
		if id.Str == "r3" && (wins.Num != 11 || losses.Num != 4 || total.Num != 15 || rate.Num != 73.33) {
			t.Errorf("unexpected r3 values wins=%v losses=%v total=%v rate=%v", wins.Num, losses.Num, total.Num, rate.Num)
		}
	}
}

func TestEnricher_RoundsFractionalSourceValues(t *testing.T) {
	out, err := NewEnricher(createTestConfig(t), createTestLogger()).Enrich(enrichTable(t,
		row("a", num(99.6), num(7.4), num(2.5)),
	))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	lp, _ := out.Cell(0, ColLP)
	total, _ := out.Cell(0, ColTotalGames)
	if lp.Num != 100 || total.Num != 10 {
		t.Errorf("expected lp 100 and total 7+3=10, got %v %v", lp.Num, total.Num)
	}
}

func TestEnricher_KNNSkippedForSmallTables(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.ImputeMissing = true
	cfg.KNNNeighbors = 5

	out, err := NewEnricher(cfg, createTestLogger()).Enrich(enrichTable(t,
		row("a", num(100), num(10), num(10)),
		row("b", num(105), NullCell(), num(9)),
	))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	// b has the higher lp so it sorts first.
	if c, _ := out.Cell(0, ColWins); c.Num != 0 {
		t.Errorf("expected zero fill when rows <= k, got %v", c.Num)
	}
}

func TestEnricher_DropsLeakageColumns(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.LeakageColumns = []string{"gold_earned"}

	in := enrichTable(t, row("a", num(1), num(1), num(1)))
	in.AddColumn(Column{Name: "gold_earned", Kind: ColumnNumber}, func(int) Cell { return NumberCell(15000) })

	out, err := NewEnricher(cfg, createTestLogger()).Enrich(in)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if out.Has("gold_earned") {
		t.Error("leakage column should be dropped")
	}
}

func TestEnricher_RejectsStringWins(t *testing.T) {
	cfg := createTestConfig(t)
	in := NewTable(
		Column{Name: ColSummonerID, Kind: ColumnString},
		Column{Name: ColWins, Kind: ColumnString},
		Column{Name: ColLosses, Kind: ColumnNumber},
	)
	in.AppendRow([]Cell{StringCell("a"), StringCell("ten"), NumberCell(1)})

	_, err := NewEnricher(cfg, createTestLogger()).Enrich(in)
	if !errors.Is(err, ErrDataQualityFailure) {
		t.Fatalf("expected DataQualityFailure, got %v", err)
	}
}

func TestNanEuclidean(t *testing.T) {
	a := []Cell{NumberCell(0), NullCell(), NumberCell(3)}
	b := []Cell{NumberCell(4), NumberCell(1), NullCell()}
	cols := []int{0, 1, 2}

	d, ok := nanEuclidean(a, b, cols)
	if !ok {
		t.Fatal("expected a distance over the shared coordinate")
	}
	if want := math.Sqrt(3.0 / 1.0 * 16); math.Abs(d-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, d)
	}

	if _, ok := nanEuclidean([]Cell{NullCell()}, []Cell{NumberCell(1)}, []int{0}); ok {
		t.Error("expected no distance without shared coordinates")
	}
}
