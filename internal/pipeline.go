package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle        State = "idle"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateEnriching   State = "enriching"
	StateValidating  State = "validating"
	StateLoading     State = "loading"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// RunMode selects which stages a run executes. transform and load split a
// full run in two around the processed CSV artifact.
type RunMode string

const (
	ModeFull      RunMode = "full"
	ModeTransform RunMode = "transform"
	ModeLoad      RunMode = "load"
)

func (m RunMode) Valid() bool {
	switch m {
	case ModeFull, ModeTransform, ModeLoad:
		return true
	}
	return false
}

func ParseRunMode(s string) (RunMode, error) {
	m := RunMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown run mode %q (want full, transform or load)", s)
	}
	return m, nil
}

type Extractor interface {
	Fetch(ctx context.Context) ([]RawEntry, error)
}

type Store interface {
	Load(ctx context.Context, t *Table) error
}

type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snap Snapshot) error
}

type RunResult struct {
	RunID       string    `json:"run_id"`
	Mode        RunMode   `json:"mode"`
	State       State     `json:"state"`
	FailedStage State     `json:"failed_stage,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Rows        int       `json:"rows"`
	Drifted     []string  `json:"drifted_fields,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	Err error `json:"-"`
}

func (r RunResult) Succeeded() bool {
	return r.State == StateSucceeded
}

type PipelineDeps struct {
	Extractor Extractor
	Store     Store
	Notifier  Notifier
	Snapshots SnapshotPublisher
	Metrics   *Metrics
}

type Pipeline struct {
	cfg        *Config
	extractor  Extractor
	normalizer *Normalizer
	enricher   *Enricher
	validator  *Validator
	store      Store
	notifier   Notifier
	snapshots  SnapshotPublisher
	metrics    *Metrics
	logger     *Logger

	mu    sync.Mutex
	state State
	last  *RunResult
}

func NewPipeline(cfg *Config, logger *Logger, deps PipelineDeps) *Pipeline {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Pipeline{
		cfg:        cfg,
		extractor:  deps.Extractor,
		normalizer: NewNormalizer(logger, FieldMappingsFromConfig(cfg)),
		enricher:   NewEnricher(cfg, logger),
		validator:  NewValidator(logger),
		store:      deps.Store,
		notifier:   notifier,
		snapshots:  deps.Snapshots,
		metrics:    deps.Metrics,
		logger:     logger,
		state:      StateIdle,
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) LastRun() (RunResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return RunResult{}, false
	}
	return *p.last, true
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) Run(ctx context.Context, mode RunMode) RunResult {
	return p.RunWithID(ctx, uuid.New().String(), mode)
}

// RunWithID executes one run. It stops at the first failing stage, sends
// exactly one notification and never returns with a non-terminal state.
func (p *Pipeline) RunWithID(ctx context.Context, runID string, mode RunMode) RunResult {
	res := RunResult{RunID: runID, Mode: mode, StartedAt: time.Now().UTC()}
	p.setState(StateIdle)

	p.logger.Info("pipeline_run_started").
		Component("pipeline").
		Operation("run").
		Run(runID).
		Meta("mode", mode).
		Log()

	err := p.execute(ctx, &res)
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		p.fail(ctx, &res, err)
	} else {
		p.succeed(ctx, &res)
	}

	p.mu.Lock()
	last := res
	p.last = &last
	p.mu.Unlock()
	return res
}

func (p *Pipeline) execute(ctx context.Context, res *RunResult) error {
	if !res.Mode.Valid() {
		return newPipelineError(KindConfigMissing, "run_mode", fmt.Errorf("unknown mode %q", res.Mode))
	}
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	var table *Table
	var err error

	if res.Mode == ModeLoad {
		err = p.stage(res, StateValidating, func() error {
			table, err = ReadCSV(p.cfg.ProcessedDataPath)
			if err != nil {
				return newPipelineError(KindEmptyInput, "read_processed", err)
			}
			return p.validator.Check(table)
		})
		if err != nil {
			return err
		}
	} else {
		if table, err = p.transform(ctx, res); err != nil {
			return err
		}
		if res.Mode == ModeTransform {
			res.Rows = table.Len()
			return nil
		}
	}

	err = p.stage(res, StateLoading, func() error {
		if p.store == nil {
			return newPipelineError(KindConfigMissing, "store", fmt.Errorf("no store configured"))
		}
		return p.store.Load(ctx, table)
	})
	if err != nil {
		return err
	}
	res.Rows = table.Len()

	p.publishSnapshot(ctx, res, table)
	return nil
}

// transform runs extract through validate and leaves the processed artifact
// on disk.
func (p *Pipeline) transform(ctx context.Context, res *RunResult) (*Table, error) {
	var entries []RawEntry
	err := p.stage(res, StateExtracting, func() error {
		var err error
		entries, err = p.extractor.Fetch(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var normalized NormalizeResult
	err = p.stage(res, StateNormalizing, func() error {
		var err error
		normalized, err = p.normalizer.Normalize(entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, f := range normalized.Drifted() {
		res.Drifted = append(res.Drifted, f.Target)
		p.metrics.FieldDrifted(f.Target)
	}

	var enriched *Table
	err = p.stage(res, StateEnriching, func() error {
		var err error
		enriched, err = p.enricher.Enrich(normalized.Table)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(res, StateValidating, func() error {
		if err := p.validator.Check(enriched); err != nil {
			return err
		}
		if err := WriteCSV(p.cfg.ProcessedDataPath, enriched); err != nil {
			return newPipelineError(KindPersistence, "write_processed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enriched, nil
}

func (p *Pipeline) stage(res *RunResult, s State, fn func() error) error {
	p.setState(s)
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.metrics.StageDuration(s, elapsed)

	if err != nil {
		res.FailedStage = s
		return err
	}
	p.logger.Debug("pipeline_stage_completed").
		Component("pipeline").
		Operation("stage").
		Run(res.RunID).
		Stage(s).
		Duration(elapsed).
		Log()
	return nil
}

func (p *Pipeline) publishSnapshot(ctx context.Context, res *RunResult, t *Table) {
	if p.snapshots == nil {
		return
	}
	records, err := t.Records()
	if err == nil {
		err = p.snapshots.PublishSnapshot(ctx, Snapshot{
			RunID:      res.RunID,
			Region:     p.cfg.RiotRegion,
			LoadedAt:   time.Now().UTC(),
			TotalCount: len(records),
			Players:    records,
		})
	}
	if err != nil {
		p.logger.Warn("snapshot_publish_failed").
			Component("pipeline").
			Operation("publish_snapshot").
			Run(res.RunID).
			Err(err).
			Log()
	}
}

func (p *Pipeline) succeed(ctx context.Context, res *RunResult) {
	res.State = StateSucceeded
	p.setState(StateSucceeded)
	p.metrics.RunFinished(res.Mode, StateSucceeded, res.FinishedAt)

	p.logger.Info("pipeline_run_succeeded").
		Component("pipeline").
		Operation("run").
		Run(res.RunID).
		Stage(StateSucceeded).
		Rows(res.Rows).
		Duration(res.FinishedAt.Sub(res.StartedAt)).
		Meta("mode", res.Mode).
		Log()

	msg := fmt.Sprintf("Pipeline run %s succeeded (mode=%s, rows=%d)", res.RunID, res.Mode, res.Rows)
	if len(res.Drifted) > 0 {
		msg += fmt.Sprintf(", defaults injected for %v", res.Drifted)
	}
	p.notify(ctx, res, msg, SeverityInfo)
}

func (p *Pipeline) fail(ctx context.Context, res *RunResult, err error) {
	if res.FailedStage == "" {
		res.FailedStage = StateIdle
	}
	res.State = StateFailed
	res.Err = err
	res.Error = err.Error()
	res.ErrorKind = KindOf(err)
	p.setState(StateFailed)
	p.metrics.RunFinished(res.Mode, StateFailed, res.FinishedAt)

	p.logger.Error("pipeline_run_failed").
		Component("pipeline").
		Operation("run").
		Run(res.RunID).
		Stage(res.FailedStage).
		Duration(res.FinishedAt.Sub(res.StartedAt)).
		Err(err).
		Meta("mode", res.Mode).
		Log()

	msg := fmt.Sprintf("Pipeline run %s failed at %s: %v", res.RunID, res.FailedStage, err)
	p.notify(ctx, res, msg, severityForError(err))
}

func severityForError(err error) Severity {
	switch KindOf(err) {
	case KindPersistence, KindConfigMissing:
		return SeverityCritical
	}
	return SeverityError
}

func (p *Pipeline) notify(ctx context.Context, res *RunResult, msg string, severity Severity) {
	err := p.notifier.Notify(ctx, msg, severity)
	p.metrics.NotificationSent(severity, err)
	if err != nil {
		p.logger.Warn("notification_failed").
			Component("pipeline").
			Operation("notify").
			Run(res.RunID).
			Err(err).
			Meta("severity", severity).
			Log()
	}
}
