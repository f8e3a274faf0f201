package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-core/internal/dto"
	"github.com/noah-isme/sma-attendance-core/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
	"github.com/noah-isme/sma-attendance-core/pkg/jobs"
)

// JobTypeReconcileTerm tags reconciliation jobs on the queue.
const JobTypeReconcileTerm = "reconcile_term"

type termReconciler interface {
	GetTerm(ctx context.Context, termID string) (*models.AcademicTerm, error)
	ReconcileTerm(ctx context.Context, termID string) (int, error)
}

// ReconcileConfig controls the background reconciler.
type ReconcileConfig struct {
	Enabled    bool
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// ReconcileService rebuilds a term's summaries in the background. Only conflicts
// with concurrent writers are retried; other failures are logged and dropped.
type ReconcileService struct {
	reconciler termReconciler
	queue      *jobs.Queue
	enabled    bool
	logger     *zap.Logger
}

// NewReconcileService constructs the service and its queue. Call Start before enqueueing.
func NewReconcileService(reconciler termReconciler, cfg ReconcileConfig, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ReconcileService{reconciler: reconciler, enabled: cfg.Enabled, logger: logger}
	svc.queue = jobs.NewQueue("reconcile", svc.Handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Retryable: func(err error) bool {
			return errors.Is(err, appErrors.ErrConcurrency)
		},
		Logger: logger,
	})
	return svc
}

// Start launches the workers when the reconciler is enabled.
func (s *ReconcileService) Start(ctx context.Context) {
	if s.enabled {
		s.queue.Start(ctx)
	}
}

// Stop drains the workers.
func (s *ReconcileService) Stop() {
	s.queue.Stop()
}

// Request reconciles a term. With the background queue enabled the work is queued and
// repeated requests for a pending term collapse into one job; otherwise it runs inline.
func (s *ReconcileService) Request(ctx context.Context, termID string) (*dto.ReconcileResponse, error) {
	if _, err := s.reconciler.GetTerm(ctx, termID); err != nil {
		return nil, err
	}

	if !s.enabled {
		count, err := s.reconciler.ReconcileTerm(ctx, termID)
		if err != nil {
			return nil, err
		}
		return &dto.ReconcileResponse{TermID: termID, Recomputed: count}, nil
	}

	job := jobs.Job{ID: uuid.NewString(), Type: JobTypeReconcileTerm, Key: termID, Payload: termID}
	if err := s.queue.Enqueue(job); err != nil {
		if errors.Is(err, jobs.ErrDuplicate) {
			return &dto.ReconcileResponse{TermID: termID, Queued: true}, nil
		}
		return nil, appErrors.Internal(err, "failed to enqueue reconciliation")
	}
	return &dto.ReconcileResponse{TermID: termID, JobID: job.ID, Queued: true}, nil
}

// Handle processes one queued reconciliation.
func (s *ReconcileService) Handle(ctx context.Context, job jobs.Job) error {
	termID, _ := job.Payload.(string)
	if termID == "" {
		termID = job.Key
	}
	count, err := s.reconciler.ReconcileTerm(ctx, termID)
	if err != nil {
		return err
	}
	s.logger.Info("term reconciled", zap.String("job_id", job.ID), zap.String("term_id", termID), zap.Int("students", count), zap.Int("attempt", job.Attempt))
	return nil
}
