package internal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// storeMetaTable records which strategy owns each target table, so a
// deployment cannot switch between replace and upsert on the same data.
const storeMetaTable = "pipeline_store_meta"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type dialect struct {
	driver      string
	placeholder func(n int) string
	timeParam   func(n int) string
	floatType   string
	timeType    string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
		timeParam:   func(int) string { return "?" },
		floatType:   "REAL",
		timeType:    "TIMESTAMP",
	},
	"postgres": {
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		timeParam:   func(n int) string { return fmt.Sprintf("$%d::timestamptz", n) },
		floatType:   "DOUBLE PRECISION",
		timeType:    "TIMESTAMPTZ",
	},
}

// Loader persists validated tables. It opens the store per call and never
// holds a connection between runs.
type Loader struct {
	dsn      string
	table    string
	strategy StoreStrategy
	dialect  dialect
	logger   *Logger
	metrics  *Metrics
	now      func() time.Time
}

func NewLoader(cfg *Config, logger *Logger) (*Loader, error) {
	d, ok := dialects[cfg.StoreDriver]
	if !ok {
		return nil, newPipelineError(KindConfigMissing, "store_driver", fmt.Errorf("unsupported driver %q", cfg.StoreDriver))
	}
	if !identifierPattern.MatchString(cfg.TargetTable) {
		return nil, newPipelineError(KindConfigMissing, "store_table", fmt.Errorf("invalid table name %q", cfg.TargetTable))
	}
	return &Loader{
		dsn:      cfg.StoreDSN,
		table:    cfg.TargetTable,
		strategy: cfg.StoreStrategy,
		dialect:  d,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (l *Loader) SetMetrics(m *Metrics) {
	l.metrics = m
}

func (l *Loader) Strategy() StoreStrategy {
	return l.strategy
}

func (l *Loader) stagingTable() string {
	return "temp_" + l.table
}

func (l *Loader) open(ctx context.Context) (*sql.DB, error) {
	if l.dialect.driver == "sqlite" && !strings.HasPrefix(l.dsn, "file:") && l.dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(l.dsn), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(l.dialect.driver, l.dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Load writes t with the configured strategy inside one transaction. An
// empty table is skipped so a bad upstream day never wipes the store.
func (l *Loader) Load(ctx context.Context, t *Table) error {
	if t.Len() == 0 {
		l.logger.Warn("load_skipped_empty_table").
			Component("loader").
			Operation("load").
			Meta("table", l.table).
			Log()
		return nil
	}

	records, err := t.Records()
	if err != nil {
		return newPipelineError(KindPersistence, "load", err)
	}

	start := time.Now()
	db, err := l.open(ctx)
	if err != nil {
		return newPipelineError(KindPersistence, "connect", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return newPipelineError(KindPersistence, "begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := l.claimTable(ctx, tx); err != nil {
		return l.loadFailed("claim_table", err)
	}

	loadedAt := l.now().UTC()
	switch l.strategy {
	case StrategyReplace:
		err = l.replace(ctx, tx, records, loadedAt)
	case StrategyUpsert:
		err = l.upsert(ctx, tx, records, loadedAt)
	default:
		err = fmt.Errorf("unsupported strategy %q", l.strategy)
	}
	if err != nil {
		return l.loadFailed(string(l.strategy), err)
	}

	if err := tx.Commit(); err != nil {
		return l.loadFailed("commit", err)
	}
	committed = true

	l.metrics.RowsLoaded(len(records))
	l.logger.Info("load_completed").
		Component("loader").
		Operation(string(l.strategy)).
		Rows(len(records)).
		Duration(time.Since(start)).
		Meta("table", l.table).
		Meta("driver", l.dialect.driver).
		Log()
	return nil
}

func (l *Loader) loadFailed(op string, err error) error {
	l.logger.Error("load_failed").
		Component("loader").
		Operation(op).
		Err(err).
		Meta("table", l.table).
		Log()
	return newPipelineError(KindPersistence, op, err)
}

// claimTable records the strategy for the target on first use and refuses a
// different one afterwards.
func (l *Loader) claimTable(ctx context.Context, tx *sql.Tx) error {
	p := l.dialect.placeholder
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		target_table TEXT PRIMARY KEY,
		strategy TEXT NOT NULL
	)`, storeMetaTable)
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return err
	}

	var owner string
	query := fmt.Sprintf("SELECT strategy FROM %s WHERE target_table = %s", storeMetaTable, p(1))
	err := tx.QueryRowContext(ctx, query, l.table).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
		insert := fmt.Sprintf("INSERT INTO %s (target_table, strategy) VALUES (%s, %s)", storeMetaTable, p(1), p(2))
		_, err = tx.ExecContext(ctx, insert, l.table, string(l.strategy))
		return err
	case err != nil:
		return err
	case owner != string(l.strategy):
		return fmt.Errorf("table %s is managed with strategy %s, refusing %s", l.table, owner, l.strategy)
	}
	return nil
}

func (l *Loader) createTableSQL(name string, ifNotExists bool) string {
	exists := ""
	if ifNotExists {
		exists = "IF NOT EXISTS "
	}
	return fmt.Sprintf(`CREATE TABLE %s%s (
		player_name TEXT NOT NULL,
		summoner_id TEXT PRIMARY KEY,
		lp INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		total_games INTEGER NOT NULL,
		win_rate %s NOT NULL,
		updated_at %s
	)`, exists, name, l.dialect.floatType, l.dialect.timeType)
}

func (l *Loader) replace(ctx context.Context, tx *sql.Tx, records []PlayerRecord, loadedAt time.Time) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", l.table)); err != nil {
		return fmt.Errorf("drop %s: %w", l.table, err)
	}
	if _, err := tx.ExecContext(ctx, l.createTableSQL(l.table, false)); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return l.insertRows(ctx, tx, l.table, records, &loadedAt)
}

func (l *Loader) upsert(ctx context.Context, tx *sql.Tx, records []PlayerRecord, loadedAt time.Time) error {
	staging := l.stagingTable()

	if _, err := tx.ExecContext(ctx, l.createTableSQL(l.table, true)); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", staging)); err != nil {
		return fmt.Errorf("drop %s: %w", staging, err)
	}
	if _, err := tx.ExecContext(ctx, l.createTableSQL(staging, false)); err != nil {
		return fmt.Errorf("create %s: %w", staging, err)
	}
	if err := l.insertRows(ctx, tx, staging, records, nil); err != nil {
		return err
	}

	cols := "player_name, summoner_id, lp, wins, losses, total_games, win_rate"
	merge := fmt.Sprintf(`INSERT INTO %s (%s, updated_at)
		SELECT %s, %s FROM %s WHERE true
		ON CONFLICT (summoner_id) DO UPDATE SET
			player_name = EXCLUDED.player_name,
			lp = EXCLUDED.lp,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			total_games = EXCLUDED.total_games,
			win_rate = EXCLUDED.win_rate,
			updated_at = EXCLUDED.updated_at`,
		l.table, cols, cols, l.dialect.timeParam(1), staging)
	if _, err := tx.ExecContext(ctx, merge, loadedAt); err != nil {
		return fmt.Errorf("merge into %s: %w", l.table, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", staging)); err != nil {
		return fmt.Errorf("drop %s: %w", staging, err)
	}
	return nil
}

func (l *Loader) insertRows(ctx context.Context, tx *sql.Tx, table string, records []PlayerRecord, stamp *time.Time) error {
	p := l.dialect.placeholder
	query := fmt.Sprintf(`INSERT INTO %s (player_name, summoner_id, lp, wins, losses, total_games, win_rate, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		table, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for _, r := range records {
		var updatedAt interface{}
		if stamp != nil {
			updatedAt = *stamp
		}
		if _, err := stmt.ExecContext(ctx, r.PlayerName, r.SummonerID, r.LP, r.Wins, r.Losses, r.TotalGames, r.WinRate, updatedAt); err != nil {
			return fmt.Errorf("insert %s into %s: %w", r.SummonerID, table, err)
		}
	}
	return nil
}

// Count returns the number of rows in the target table.
func (l *Loader) Count(ctx context.Context) (int, error) {
	db, err := l.open(ctx)
	if err != nil {
		return 0, newPipelineError(KindPersistence, "connect", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", l.table)).Scan(&n); err != nil {
		return 0, newPipelineError(KindPersistence, "count", err)
	}
	return n, nil
}

// Top returns the n highest-LP players currently stored.
func (l *Loader) Top(ctx context.Context, n int) ([]PlayerRecord, error) {
	db, err := l.open(ctx)
	if err != nil {
		return nil, newPipelineError(KindPersistence, "connect", err)
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT player_name, summoner_id, lp, wins, losses, total_games, win_rate, updated_at
		FROM %s ORDER BY lp DESC, summoner_id LIMIT %s`, l.table, l.dialect.placeholder(1))
	rows, err := db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, newPipelineError(KindPersistence, "top", err)
	}
	defer rows.Close()

	var out []PlayerRecord
	for rows.Next() {
		var r PlayerRecord
		var updatedAt sql.NullTime
		if err := rows.Scan(&r.PlayerName, &r.SummonerID, &r.LP, &r.Wins, &r.Losses, &r.TotalGames, &r.WinRate, &updatedAt); err != nil {
			return nil, newPipelineError(KindPersistence, "top", err)
		}
		if updatedAt.Valid {
			r.UpdatedAt = updatedAt.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, newPipelineError(KindPersistence, "top", err)
	}
	return out, nil
}
