package ingest

import (
	"context"
	"time"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/logger"
	"github.com/fathomdata/tidemark/provider"
)

// Mode selects how much of the requested range gets fetched.
type Mode string

const (
	// ModeIncremental fetches only the gap ranges not yet covered.
	ModeIncremental Mode = "incremental"
	// ModeFull fetches the whole requested range regardless of coverage.
	ModeFull Mode = "full"
)

// Request is one ingestion ask: a symbol, its class, and a closed-open day
// range. Zero-valued Mode, Provider and Conflict fall back to configuration.
type Request struct {
	Symbol    string
	AssetType asset.Type
	Provider  string
	Start     time.Time
	End       time.Time
	Mode      Mode
	Conflict  ConflictPolicy
}

// Result summarizes one ingestion run. On failure it still carries the
// progress made before the error: the fetched ranges listed here are
// covered and will not be fetched again.
type Result struct {
	Status         LogStatus
	Asset          *asset.Asset
	Requested      Range
	Fetched        []Range
	RecordsLoaded  int
	RecordsDropped int
	Duration       time.Duration
}

// Engine runs the ingestion pipeline end to end.
type Engine struct {
	assets    *asset.Manager
	tracker   *Tracker
	mapper    *Mapper
	loader    *Loader
	logs      *LogStore
	collector provider.Collector
	cfg       config.IngestConfig
}

// NewEngine wires the pipeline stages together. collector is normally the
// request coordinator, so every fetch is rate-limited and coalesced.
func NewEngine(assets *asset.Manager, tracker *Tracker, loader *Loader, logs *LogStore, collector provider.Collector, cfg config.IngestConfig) *Engine {
	return &Engine{
		assets:    assets,
		tracker:   tracker,
		mapper:    NewMapper(),
		loader:    loader,
		logs:      logs,
		collector: collector,
		cfg:       cfg,
	}
}

// Ingest runs one complete ingestion. Once the asset is resolved, every run
// leaves an ingestion_logs row whatever the outcome, and a non-nil Result
// comes back even alongside an error so callers can see partial progress.
// Errors before the asset resolves (validation, mostly) write nothing.
func (e *Engine) Ingest(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if req.End.Before(req.Start) {
		return nil, errors.NewValidationError("range start %s is after end %s",
			req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"))
	}

	mode, err := e.resolveMode(req.Mode)
	if err != nil {
		return nil, err
	}

	policyStr := string(req.Conflict)
	if policyStr == "" {
		policyStr = e.cfg.ConflictPolicy
	}
	policy, err := ParseConflictPolicy(policyStr)
	if err != nil {
		return nil, err
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = provider.SyntheticName
	}

	a, err := e.assets.GetOrCreate(ctx, req.Symbol, req.AssetType)
	if err != nil {
		return nil, err
	}

	spec, err := e.mapper.Spec(a.Type)
	if err != nil {
		return nil, err
	}

	requested := NewRange(req.Start, req.End)
	res := &Result{
		Status:    LogStatusSuccess,
		Asset:     a,
		Requested: requested,
	}

	var gaps []Range
	if mode == ModeFull {
		if !requested.IsEmpty() {
			gaps = []Range{requested}
		}
	} else {
		gaps, err = e.tracker.Gaps(ctx, a.ID, requested)
		if err != nil {
			res.Status = LogStatusFailed
			res.Duration = time.Since(started)
			e.appendLog(ctx, res, err)
			return res, err
		}
	}

	if len(gaps) == 0 {
		res.Status = LogStatusSkipped
		res.Duration = time.Since(started)
		e.appendLog(ctx, res, nil)
		logger.LoggerFromContext(ctx).Infow("Ingestion skipped, range already covered",
			logger.FieldSymbol, a.Symbol,
			logger.FieldAssetType, a.Type,
			logger.FieldRange, requested.String())
		return res, nil
	}

	for _, gap := range gaps {
		records, err := e.collector.Collect(ctx, provider.Request{
			Provider:  providerName,
			Symbol:    a.Symbol,
			AssetType: a.Type,
			Start:     gap.Start,
			End:       gap.End,
		})
		if err != nil {
			err = classifyCollectError(err, gap)
			res.Status = LogStatusFailed
			res.Duration = time.Since(started)
			e.appendLog(ctx, res, err)
			return res, err
		}

		rows, dropped := e.mapRecords(a.Type, records)
		res.RecordsDropped += dropped

		loadRes, err := e.loader.Load(ctx, spec, a.ID, rows, policy)
		res.RecordsLoaded += loadRes.Loaded
		if err != nil {
			res.Status = LogStatusFailed
			res.Duration = time.Since(started)
			e.appendLog(ctx, res, err)
			return res, err
		}

		// Coverage is recorded only after the gap's rows are committed, so
		// a crash in between re-fetches the gap rather than losing it.
		if err := e.tracker.MarkCovered(ctx, a.ID, gap); err != nil {
			res.Status = LogStatusFailed
			res.Duration = time.Since(started)
			e.appendLog(ctx, res, err)
			return res, err
		}

		res.Fetched = append(res.Fetched, gap)
	}

	res.Duration = time.Since(started)
	e.appendLog(ctx, res, nil)

	logger.LoggerFromContext(ctx).Infow("Ingestion complete",
		logger.FieldSymbol, a.Symbol,
		logger.FieldAssetType, a.Type,
		logger.FieldRange, requested.String(),
		"gaps_fetched", len(res.Fetched),
		logger.FieldRows, res.RecordsLoaded,
		logger.FieldDropped, res.RecordsDropped,
		logger.FieldDurationMS, res.Duration.Milliseconds())

	return res, nil
}

// ParseMode validates a mode string. Empty is allowed and means "use the
// configured default".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIncremental, ModeFull, "":
		return Mode(s), nil
	}
	return "", errors.NewValidationError("unknown ingest mode %q (want incremental or full)", s)
}

func (e *Engine) resolveMode(m Mode) (Mode, error) {
	mode, err := ParseMode(string(m))
	if err != nil {
		return "", err
	}
	if mode == "" {
		if e.cfg.Incremental {
			return ModeIncremental, nil
		}
		return ModeFull, nil
	}
	return mode, nil
}

func (e *Engine) mapRecords(t asset.Type, records []provider.Record) ([]Row, int) {
	rows := make([]Row, 0, len(records))
	dropped := 0
	for _, rec := range records {
		row, err := e.mapper.Map(t, rec)
		if err != nil {
			dropped++
			logger.Debugw("Dropped invalid record",
				logger.FieldAssetType, t,
				logger.FieldError, err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped
}

// appendLog writes the audit row. A failing audit write is logged but never
// turns a finished ingestion into a failure. The write runs detached from
// the run's cancellation: a timed-out run must still leave its record.
func (e *Engine) appendLog(ctx context.Context, res *Result, runErr error) {
	ctx = context.WithoutCancel(ctx)
	l := &Log{
		AssetID:        res.Asset.ID,
		Symbol:         res.Asset.Symbol,
		AssetType:      string(res.Asset.Type),
		Status:         res.Status,
		RequestedStart: res.Requested.Start,
		RequestedEnd:   res.Requested.End,
		FetchedRanges:  res.Fetched,
		RecordsLoaded:  res.RecordsLoaded,
		RecordsDropped: res.RecordsDropped,
		DurationMS:     res.Duration.Milliseconds(),
	}
	if runErr != nil {
		l.Error = runErr.Error()
	}

	if err := e.logs.Append(ctx, l); err != nil {
		logger.Warnw("Failed to write ingestion log",
			logger.FieldSymbol, res.Asset.Symbol,
			logger.FieldError, err)
	}
}

// classifyCollectError keeps rate-limit and collection markers, and folds
// everything else (context deadlines included) into a collection error.
func classifyCollectError(err error, gap Range) error {
	if errors.IsRateLimitedError(err) || errors.IsCollectionError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Mark(errors.Wrapf(err, "timeout collecting range %s", gap), errors.ErrCollection)
	}
	return errors.Mark(errors.Wrapf(err, "collector failed for range %s", gap), errors.ErrCollection)
}
