// Package overdue периодически помечает просроченные выдачи по расписанию cron.
package overdue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Marker помечает просроченными выдачи с датой возврата раньше asOf.
type Marker interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
}

// Sweeper запускает Marker по расписанию.
type Sweeper struct {
	schedule cron.Schedule
	spec     string
	marker   Marker
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper разбирает cron-выражение (пять полей или дескриптор вида @hourly).
func NewSweeper(spec string, m Marker, logger *zap.Logger) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse overdue schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		schedule: schedule,
		spec:     spec,
		marker:   m,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Next возвращает время следующего запуска после t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// RunOnce выполняет один проход.
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := s.now()

	n, err := s.marker.MarkOverdue(ctx, start)
	if err != nil {
		s.logger.Error("overdue sweep failed", zap.Error(err), zap.Int("marked", n))
		return
	}

	s.logger.Info("overdue sweep finished",
		zap.Int("marked", n),
		zap.Duration("duration", s.now().Sub(start)),
	)
}

// Run выполняет проходы по расписанию до отмены ctx. Пересекающиеся запуски пропускаются.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(zap.NewStdLog(s.logger))),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.RunOnce(ctx)
	}))

	s.logger.Info("overdue sweep scheduled", zap.String("schedule", s.spec))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
