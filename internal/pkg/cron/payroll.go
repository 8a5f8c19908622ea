package cron

import (
	"context"
	"time"
)

// BatchResumer resumes payroll batch runs that were interrupted.
type BatchResumer interface {
	ResumeStaleBatches(ctx context.Context) error
}

type PayrollJobs struct {
	resumer  BatchResumer
	interval time.Duration
}

func NewPayrollJobs(resumer BatchResumer, interval time.Duration) *PayrollJobs {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &PayrollJobs{resumer: resumer, interval: interval}
}

func (j *PayrollJobs) RegisterJobs(scheduler *Scheduler) {
	scheduler.Add(Job{
		Name:     "payroll_batch_resume",
		Interval: j.interval,
		Timeout:  j.interval,
		Fn:       j.resumer.ResumeStaleBatches,
	})
}
