package internal

import (
	"fmt"
	"math"
)

type Enricher struct {
	impute         bool
	imputer        KNNImputer
	leakageColumns []string
	logger         *Logger
}

func NewEnricher(cfg *Config, logger *Logger) *Enricher {
	return &Enricher{
		impute:         cfg.ImputeMissing,
		imputer:        KNNImputer{Neighbors: cfg.KNNNeighbors},
		leakageColumns: cfg.LeakageColumns,
		logger:         logger,
	}
}

// Enrich derives total_games and win_rate on a copy of in, after optional
// leakage-column removal and imputation, and returns it sorted by lp
// descending.
func (e *Enricher) Enrich(in *Table) (*Table, error) {
	for _, name := range []string{ColWins, ColLosses} {
		kind, ok := in.Kind(name)
		if !ok {
			return nil, newPipelineError(KindDataQualityFailure, "enrich", fmt.Errorf("column %s is missing", name))
		}
		if kind != ColumnNumber {
			return nil, newPipelineError(KindDataQualityFailure, "enrich", fmt.Errorf("column %s is %s, want number", name, kind))
		}
	}

	t := in.Clone()

	if len(e.leakageColumns) > 0 {
		if dropped := t.DropColumns(e.leakageColumns...); dropped > 0 {
			e.logger.Info("leakage_columns_dropped").
				Component("enricher").
				Operation("drop_leakage").
				Meta("columns", e.leakageColumns).
				Meta("dropped", dropped).
				Log()
		}
	}

	if e.impute {
		filled := e.imputer.Impute(t)
		e.logger.Info("knn_imputation_completed").
			Component("enricher").
			Operation("impute").
			Meta("neighbors", e.imputer.Neighbors).
			Meta("filled_cells", filled).
			Log()
	}

	roundIntegerColumns(t)

	for _, name := range []string{ColWins, ColLosses} {
		zeroed := 0
		idx := t.Index(name)
		for _, row := range t.rows {
			if row[idx].Null {
				row[idx] = NumberCell(0)
				zeroed++
			}
		}
		if zeroed > 0 {
			e.logger.Warn("numeric_nulls_zero_filled").
				Component("enricher").
				Operation("fill_nulls").
				Meta("column", name).
				Meta("rows", zeroed).
				Log()
		}
	}

	winsIdx, lossesIdx := t.Index(ColWins), t.Index(ColLosses)
	t.AddColumn(Column{Name: ColTotalGames, Kind: ColumnNumber}, func(r int) Cell {
		return NumberCell(t.rows[r][winsIdx].Num + t.rows[r][lossesIdx].Num)
	})
	totalIdx := t.Index(ColTotalGames)
	t.AddColumn(Column{Name: ColWinRate, Kind: ColumnNumber}, func(r int) Cell {
		return NumberCell(WinRate(t.rows[r][winsIdx].Num, t.rows[r][totalIdx].Num))
	})

	t.SortDesc(ColLP)

	e.logger.Info("enrich_completed").
		Component("enricher").
		Operation("enrich").
		Rows(t.Len()).
		Log()
	return t, nil
}

// integerColumns are stored as integers, so derived values must be computed
// from their rounded form.
var integerColumns = []string{ColLP, ColWins, ColLosses}

// roundIntegerColumns snaps imputed means (and any fractional source value)
// to whole numbers. Nulls are left alone.
func roundIntegerColumns(t *Table) {
	for _, name := range integerColumns {
		if kind, ok := t.Kind(name); !ok || kind != ColumnNumber {
			continue
		}
		idx := t.Index(name)
		for _, row := range t.rows {
			if !row[idx].Null {
				row[idx].Num = math.Round(row[idx].Num)
			}
		}
	}
}

// WinRate is wins/total as a percentage rounded to two decimals, and 0 when
// no games were played.
func WinRate(wins, total float64) float64 {
	if total <= 0 {
		return 0.0
	}
	return math.Round(wins/total*100*100) / 100
}
