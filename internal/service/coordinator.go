package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-core/internal/dto"
	"github.com/noah-isme/sma-attendance-core/internal/models"
	"github.com/noah-isme/sma-attendance-core/pkg/database"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
	"github.com/noah-isme/sma-attendance-core/pkg/logger"
)

// Operation names used for metrics and logs.
const (
	OpRecordEvent      = "record_event"
	OpUpdateEvent      = "update_event"
	OpDeleteEvent      = "delete_event"
	OpGetSummary       = "get_summary"
	OpRecomputeSummary = "recompute_summary"
	OpCreateTerm       = "create_term"
	OpActivateTerm     = "activate_term"
	OpDeleteTerm       = "delete_term"
	OpReconcileTerm    = "reconcile_term"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type studentDirectory interface {
	ListEligibleIDs(ctx context.Context, exec sqlx.ExtContext) ([]string, error)
	Exists(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
}

type cacheStore interface {
	readCache
	Invalidate(ctx context.Context, pattern string) error
}

// UnitFunc is the body of an atomic unit. It must route every read and write through exec.
type UnitFunc func(ctx context.Context, exec sqlx.ExtContext) error

// CoordinatorConfig tunes transaction handling.
type CoordinatorConfig struct {
	// MaxAttempts bounds how many times a unit is run when it loses a race. 1 disables retry.
	MaxAttempts int
	Timeout     time.Duration
}

// Coordinator is the only place where components are combined. Every entry point runs
// as one serializable transaction so summaries never diverge from their events.
type Coordinator struct {
	db        txProvider
	events    *EventStore
	summaries *SummaryMaintainer
	terms     *TermRegistry
	archiver  *TermArchiver
	students  studentDirectory
	cache     cacheStore
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       CoordinatorConfig
}

// NewCoordinator wires the components together.
func NewCoordinator(db txProvider, events *EventStore, summaries *SummaryMaintainer, terms *TermRegistry, archiver *TermArchiver, students studentDirectory, cache cacheStore, metrics *MetricsService, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Coordinator{
		db:        db,
		events:    events,
		summaries: summaries,
		terms:     terms,
		archiver:  archiver,
		students:  students,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Atomic runs fn inside a serializable transaction. Any error rolls the whole unit back
// and is returned unchanged, except storage contention which becomes ErrConcurrency.
func (c *Coordinator) Atomic(ctx context.Context, op string, fn UnitFunc) error {
	log := logger.FromContext(ctx, c.logger)
	start := time.Now()

	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err = c.runOnce(ctx, fn)
		if err == nil || !errors.Is(err, appErrors.ErrConcurrency) || attempt == c.cfg.MaxAttempts {
			break
		}
		log.Warn("atomic unit conflicted, retrying", zap.String("op", op), zap.Int("attempt", attempt))
	}

	duration := time.Since(start)
	outcome := OutcomeCommitted
	switch {
	case err == nil:
		log.Debug("atomic unit committed", zap.String("op", op), zap.Duration("duration", duration))
	case errors.Is(err, appErrors.ErrConcurrency):
		outcome = OutcomeConflicted
		log.Warn("atomic unit conflicted", zap.String("op", op), zap.Error(err))
	default:
		outcome = OutcomeFailed
		if appErrors.FromError(err).Status >= 500 {
			log.Error("atomic unit failed", zap.String("op", op), zap.Error(err))
		} else {
			log.Info("atomic unit rejected", zap.String("op", op), zap.Error(err))
		}
	}
	c.metrics.ObserveAtomicUnit(op, outcome, duration)
	return err
}

func (c *Coordinator) runOnce(ctx context.Context, fn UnitFunc) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	tx, err := c.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return appErrors.Internal(err, "failed to begin transaction")
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return contention(err)
	}
	if err := tx.Commit(); err != nil {
		committed = true
		if database.IsContention(err) {
			return contention(err)
		}
		return appErrors.Internal(err, "failed to commit transaction")
	}
	committed = true
	return nil
}

func contention(err error) error {
	if database.IsContention(err) {
		return appErrors.Wrap(err, appErrors.ErrConcurrency.Code, appErrors.ErrConcurrency.Status, appErrors.ErrConcurrency.Message)
	}
	return err
}

// RecordEvent stores an event and refreshes its summary.
func (c *Coordinator) RecordEvent(ctx context.Context, req dto.RecordEventRequest) (*dto.EventMutationResponse, error) {
	var result dto.EventMutationResponse
	err := c.Atomic(ctx, OpRecordEvent, func(ctx context.Context, exec sqlx.ExtContext) error {
		event, err := c.events.Record(ctx, exec, req)
		if err != nil {
			return err
		}
		summary, err := c.summaries.Recompute(ctx, exec, event.Key())
		if err != nil {
			return err
		}
		result = dto.EventMutationResponse{Event: event, Summaries: []models.AttendanceSummary{*summary}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.evictSummaries(ctx, result.Event.Key())
	return &result, nil
}

// UpdateEvent corrects an event and refreshes the summary under both the old and new key.
func (c *Coordinator) UpdateEvent(ctx context.Context, id string, req dto.UpdateEventRequest) (*dto.EventMutationResponse, error) {
	var (
		result dto.EventMutationResponse
		keys   []models.SummaryKey
	)
	err := c.Atomic(ctx, OpUpdateEvent, func(ctx context.Context, exec sqlx.ExtContext) error {
		change, err := c.events.Update(ctx, exec, id, req)
		if err != nil {
			return err
		}
		keys = change.Keys()
		summaries := make([]models.AttendanceSummary, 0, len(keys))
		for _, key := range keys {
			summary, err := c.summaries.Recompute(ctx, exec, key)
			if err != nil {
				return err
			}
			summaries = append(summaries, *summary)
		}
		result = dto.EventMutationResponse{Event: change.Event, Summaries: summaries}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.evictSummaries(ctx, keys...)
	return &result, nil
}

// DeleteEvent removes an event and refreshes the summary it contributed to.
func (c *Coordinator) DeleteEvent(ctx context.Context, id string) (*dto.EventMutationResponse, error) {
	var result dto.EventMutationResponse
	err := c.Atomic(ctx, OpDeleteEvent, func(ctx context.Context, exec sqlx.ExtContext) error {
		event, err := c.events.Delete(ctx, exec, id)
		if err != nil {
			return err
		}
		summary, err := c.summaries.Recompute(ctx, exec, event.Key())
		if err != nil {
			return err
		}
		result = dto.EventMutationResponse{Event: event, Summaries: []models.AttendanceSummary{*summary}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.evictSummaries(ctx, result.Event.Key())
	return &result, nil
}

// QueryEvents lists a student's events for a term half.
func (c *Coordinator) QueryEvents(ctx context.Context, key models.SummaryKey) ([]models.AttendanceEvent, error) {
	return c.events.Query(ctx, nil, key)
}

// GetSummary returns the stored summary, creating it from events on first access.
func (c *Coordinator) GetSummary(ctx context.Context, key models.SummaryKey) (*models.AttendanceSummary, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if c.cache != nil {
		var cached models.AttendanceSummary
		if hit, _ := c.cache.Get(ctx, SummaryCacheKey(key), &cached); hit {
			return &cached, nil
		}
	}

	var result *models.AttendanceSummary
	err := c.Atomic(ctx, OpGetSummary, func(ctx context.Context, exec sqlx.ExtContext) error {
		summary, err := c.summaries.Get(ctx, exec, key)
		if err == nil {
			result = summary
			return nil
		}
		if !errors.Is(err, appErrors.ErrNotFound) {
			return err
		}
		known, err := c.students.Exists(ctx, exec, key.StudentID)
		if err != nil {
			return appErrors.Internal(err, "failed to check student")
		}
		if !known {
			return appErrors.ErrStudentUnknown
		}
		result, err = c.summaries.Recompute(ctx, exec, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, SummaryCacheKey(key), result, 0); err != nil {
			logger.FromContext(ctx, c.logger).Warn("summary not cached", zap.String("summary_key", key.String()), zap.Error(err))
		}
	}
	return result, nil
}

// RecomputeSummary forces a rebuild of one summary from its events.
func (c *Coordinator) RecomputeSummary(ctx context.Context, key models.SummaryKey) (*models.AttendanceSummary, error) {
	var result *models.AttendanceSummary
	err := c.Atomic(ctx, OpRecomputeSummary, func(ctx context.Context, exec sqlx.ExtContext) error {
		var err error
		result, err = c.summaries.Recompute(ctx, exec, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.evictSummaries(ctx, key)
	return result, nil
}

// CreateTerm registers a new inactive term.
func (c *Coordinator) CreateTerm(ctx context.Context, req dto.CreateTermRequest) (*models.AcademicTerm, error) {
	var result *models.AcademicTerm
	err := c.Atomic(ctx, OpCreateTerm, func(ctx context.Context, exec sqlx.ExtContext) error {
		var err error
		result, err = c.terms.Create(ctx, exec, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ActivateTerm makes termID the single active term and bootstraps zeroed summaries
// for every eligible student lacking one.
func (c *Coordinator) ActivateTerm(ctx context.Context, termID string) (*models.TermActivation, error) {
	var result models.TermActivation
	err := c.Atomic(ctx, OpActivateTerm, func(ctx context.Context, exec sqlx.ExtContext) error {
		term, err := c.terms.Activate(ctx, exec, termID)
		if err != nil {
			return err
		}
		ids, err := c.students.ListEligibleIDs(ctx, exec)
		if err != nil {
			return appErrors.Internal(err, "failed to list eligible students")
		}
		created, err := c.summaries.Bootstrap(ctx, exec, term, ids)
		if err != nil {
			return err
		}
		result = models.TermActivation{Term: term, StudentsConsidered: len(ids), SummariesCreated: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.terms.InvalidateActive(ctx)
	c.metrics.AddBootstrappedSummaries(result.SummariesCreated)
	logger.FromContext(ctx, c.logger).Info("term activation bootstrapped summaries",
		zap.String("term_id", termID),
		zap.Int("students_considered", result.StudentsConsidered),
		zap.Int("summaries_created", result.SummariesCreated))
	return &result, nil
}

// DeleteTerm archives an inactive term into its history and purges its live data.
func (c *Coordinator) DeleteTerm(ctx context.Context, termID string) (*models.TermHistory, error) {
	var result *models.TermHistory
	err := c.Atomic(ctx, OpDeleteTerm, func(ctx context.Context, exec sqlx.ExtContext) error {
		var err error
		result, err = c.archiver.ArchiveAndPurge(ctx, exec, termID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.terms.InvalidateActive(ctx)
	c.evictTermSummaries(ctx, result.TermLabel, result.TermHalf)
	return result, nil
}

// ReconcileTerm recomputes every summary of a term half from its events in one unit and
// returns how many students were processed.
func (c *Coordinator) ReconcileTerm(ctx context.Context, termID string) (int, error) {
	var (
		term  *models.AcademicTerm
		count int
	)
	err := c.Atomic(ctx, OpReconcileTerm, func(ctx context.Context, exec sqlx.ExtContext) error {
		var err error
		term, err = c.terms.Get(ctx, exec, termID)
		if err != nil {
			return err
		}
		ids, err := c.summaries.StudentsInTerm(ctx, exec, term.Label, term.Half)
		if err != nil {
			return err
		}
		for _, id := range ids {
			key := models.SummaryKey{StudentID: id, TermLabel: term.Label, TermHalf: term.Half}
			if _, err := c.summaries.Recompute(ctx, exec, key); err != nil {
				return err
			}
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.evictTermSummaries(ctx, term.Label, term.Half)
	return count, nil
}

// GetTerm returns a term by id.
func (c *Coordinator) GetTerm(ctx context.Context, termID string) (*models.AcademicTerm, error) {
	return c.terms.Get(ctx, nil, termID)
}

// ListTerms returns paginated terms.
func (c *Coordinator) ListTerms(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, *models.Pagination, error) {
	return c.terms.List(ctx, filter)
}

// GetActiveTerm returns the active term or ErrNoActiveTerm.
func (c *Coordinator) GetActiveTerm(ctx context.Context) (*models.AcademicTerm, error) {
	return c.terms.GetActive(ctx)
}

func (c *Coordinator) evictSummaries(ctx context.Context, keys ...models.SummaryKey) {
	if c.cache == nil || len(keys) == 0 {
		return
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		cacheKeys = append(cacheKeys, SummaryCacheKey(key))
	}
	if err := c.cache.Delete(ctx, cacheKeys...); err != nil {
		logger.FromContext(ctx, c.logger).Warn("summary cache eviction failed; entries stay stale until TTL",
			zap.Strings("keys", cacheKeys), zap.Error(err))
	}
}

func (c *Coordinator) evictTermSummaries(ctx context.Context, label string, half int) {
	if c.cache == nil {
		return
	}
	pattern := TermSummariesCachePattern(label, half)
	if err := c.cache.Invalidate(ctx, pattern); err != nil {
		logger.FromContext(ctx, c.logger).Warn("term summary cache invalidation failed; entries stay stale until TTL",
			zap.String("pattern", pattern), zap.Error(err))
	}
}
