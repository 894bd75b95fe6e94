package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/monitoring"
	"github.com/prorroga-chain-server/internal/notify"
)

// DefaultReviewSchedule runs the review every day at 06:00.
const DefaultReviewSchedule = "0 0 6 * * *"

// ReviewReport summarizes one review run.
type ReviewReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Subjects   int           `json:"subjects"`
	Failures   int           `json:"failures"`
	Generated  int           `json:"generated"`
	Suppressed int           `json:"suppressed"`
	Published  int           `json:"published"`
}

// ReviewScheduler periodically analyzes every subject from the case source,
// drops alerts already delivered inside the dedup window and publishes the rest.
type ReviewScheduler struct {
	service   *ProrrogaService
	publisher domain.AlertPublisher
	deduper   domain.AlertDeduper
	metrics   *monitoring.Metrics
	logger    *logrus.Logger

	cron    *cron.Cron
	running sync.Mutex
	mu      sync.RWMutex
	last    *ReviewReport
}

// NewReviewScheduler creates a scheduler. The deduper may be nil.
func NewReviewScheduler(
	service *ProrrogaService,
	publisher domain.AlertPublisher,
	deduper domain.AlertDeduper,
	metrics *monitoring.Metrics,
	logger *logrus.Logger,
) *ReviewScheduler {
	return &ReviewScheduler{
		service:   service,
		publisher: publisher,
		deduper:   deduper,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start registers the review under a seconds-resolution cron spec and starts the scheduler.
func (r *ReviewScheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultReviewSchedule
	}
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.WithError(err).Error("Scheduled alert review failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid review schedule %q: %w", spec, err)
	}
	r.cron = c
	c.Start()

	r.logger.WithField("schedule", spec).Info("Alert review scheduled")
	return nil
}

// Stop stops the scheduler and waits for a running review to finish or ctx to end.
func (r *ReviewScheduler) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one review. Overlapping runs are skipped.
func (r *ReviewScheduler) RunOnce(ctx context.Context) (*ReviewReport, error) {
	if !r.running.TryLock() {
		r.logger.Warn("Alert review already running, skipping")
		return nil, nil
	}
	defer r.running.Unlock()

	report := &ReviewReport{StartedAt: time.Now().UTC()}
	batch, err := r.service.AnalyzeSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze subjects: %w", err)
	}
	report.Subjects = batch.SubjectsAnalyzed
	report.Failures = len(batch.Failures)
	report.Generated = len(batch.Alerts)

	fresh, suppressed, err := notify.Filter(ctx, r.deduper, batch.Alerts)
	if err != nil {
		r.logger.WithError(err).Warn("Alert de-duplication unavailable, publishing remaining alerts")
	}
	report.Suppressed = suppressed
	for i := 0; i < suppressed; i++ {
		r.metrics.ObserveSuppressed()
	}

	if len(fresh) > 0 {
		if err := r.publisher.Publish(ctx, fresh); err != nil {
			if relErr := notify.Release(ctx, r.deduper, fresh); relErr != nil {
				r.logger.WithError(relErr).Error("Failed to release undelivered alerts, they stay suppressed until the window expires")
			}
			return nil, fmt.Errorf("failed to publish alerts: %w", err)
		}
	}
	report.Published = len(fresh)
	report.Duration = time.Since(report.StartedAt)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"subjects":   report.Subjects,
		"failures":   report.Failures,
		"generated":  report.Generated,
		"suppressed": report.Suppressed,
		"published":  report.Published,
		"duration":   report.Duration,
	}).Info("Alert review completed")

	return report, nil
}

// LastReport returns the most recent completed review, or nil.
func (r *ReviewScheduler) LastReport() *ReviewReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
