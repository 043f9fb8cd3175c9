package internal

import (
	"fmt"
)

// Validation checks in the order they run.
const (
	CheckNonEmpty     = "non_empty"
	CheckBounds       = "logical_bounds"
	CheckSchema       = "schema_contract"
	CheckCompleteness = "completeness"
)

var criticalColumns = []string{ColPlayerName, ColSummonerID, ColLP}

type Validator struct {
	logger *Logger
}

func NewValidator(logger *Logger) *Validator {
	return &Validator{logger: logger}
}

func (v *Validator) Validate(t *Table) bool {
	return v.Check(t) == nil
}

// Check runs every gate and stops at the first failure, returning a
// DataQualityFailure whose Op names the failed check.
func (v *Validator) Check(t *Table) error {
	if t.Len() == 0 {
		return v.fail(CheckNonEmpty, fmt.Errorf("table has no rows"))
	}

	if err := checkBounds(t); err != nil {
		return v.fail(CheckBounds, err)
	}

	for _, col := range criticalColumns {
		if !t.Has(col) {
			return v.fail(CheckSchema, fmt.Errorf("missing column %s", col))
		}
	}

	for _, col := range criticalColumns {
		idx := t.Index(col)
		nulls := 0
		for _, row := range t.rows {
			c := row[idx]
			if c.Null || (col == ColSummonerID && c.Str == "") {
				nulls++
			}
		}
		if nulls > 0 {
			return v.fail(CheckCompleteness, fmt.Errorf("column %s has %d null values", col, nulls))
		}
	}

	v.logger.Info("validation_passed").
		Component("validator").
		Operation("check").
		Rows(t.Len()).
		Log()
	return nil
}

type bound struct {
	column   string
	min, max float64
	hasMax   bool
}

var logicalBounds = []bound{
	{column: ColWinRate, min: 0, max: 100, hasMax: true},
	{column: ColLP, min: 0},
	{column: ColWins, min: 0},
	{column: ColLosses, min: 0},
}

// checkBounds only looks at numeric columns the table actually has. Null
// cells are left to the completeness check.
func checkBounds(t *Table) error {
	for _, b := range logicalBounds {
		idx := t.Index(b.column)
		if idx < 0 || t.columns[idx].Kind != ColumnNumber {
			continue
		}
		for r, row := range t.rows {
			c := row[idx]
			if c.Null {
				continue
			}
			if c.Num < b.min || (b.hasMax && c.Num > b.max) {
				return fmt.Errorf("row %d: %s=%v out of range", r, b.column, c.Num)
			}
		}
	}
	return nil
}

func (v *Validator) fail(check string, err error) error {
	v.logger.Error("validation_failed").
		Component("validator").
		Operation(check).
		ErrorCode(string(KindDataQualityFailure)).
		Meta("reason", err.Error()).
		Log()
	return newPipelineError(KindDataQualityFailure, check, err)
}
