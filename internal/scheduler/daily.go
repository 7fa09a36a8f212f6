// Package scheduler runs jobs at a fixed local hour each day.
package scheduler

import (
	"context"
	"time"

	"furbox-service/internal/util"

	"go.uber.org/zap"
)

// Job is the unit of work fired by Daily
type Job func(ctx context.Context) error

// Daily fires job once a day at hour:00 in loc
type Daily struct {
	name   string
	hour   int
	loc    *time.Location
	job    Job
	now    func() time.Time
	after  func(d time.Duration) <-chan time.Time
	logger *zap.Logger
}

// NewDaily creates a daily schedule. hour is clamped to 0..23.
func NewDaily(name string, hour int, loc *time.Location, job Job) *Daily {
	if hour < 0 {
		hour = 0
	}
	if hour > 23 {
		hour = 23
	}
	if loc == nil {
		loc = time.Local
	}
	return &Daily{
		name:   name,
		hour:   hour,
		loc:    loc,
		job:    job,
		now:    time.Now,
		after:  time.After,
		logger: util.GetLogger(),
	}
}

// Next returns the first firing time strictly after now
func (d *Daily) Next(now time.Time) time.Time {
	local := now.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, 0, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, 0, 0, 0, d.loc)
	}
	return next
}

// Run blocks until ctx is done, firing the job at each scheduled time. Job
// errors are logged and do not stop the schedule.
func (d *Daily) Run(ctx context.Context) error {
	for {
		next := d.Next(d.now())
		d.logger.Info("Next scheduled run", zap.String("job", d.name), zap.Time("at", next))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.after(next.Sub(d.now())):
		}

		start := time.Now()
		if err := d.job(ctx); err != nil {
			d.logger.Error("Scheduled job failed", zap.String("job", d.name), zap.Error(err))
			continue
		}
		d.logger.Info("Scheduled job finished",
			zap.String("job", d.name),
			zap.Duration("took", time.Since(start)))
	}
}
