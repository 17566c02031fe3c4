package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/pkg/logger"
	"marketplace-bidding/pkg/utils"

	"github.com/robfig/cron/v3"
)

// JobRunner executes scheduled lifecycle jobs. AuctionManager implements it.
type JobRunner interface {
	StartAuction(ctx context.Context, auctionID string) error
	EndAuction(ctx context.Context, auctionID string) error
}

type CronAuctionScheduler struct {
	cron         *cron.Cron
	repo         domain.SchedulerRepository
	runner       JobRunner
	leader       domain.LeaderElection
	instanceID   string
	pollInterval time.Duration
	now          func() time.Time
	log          logger.Logger
}

func NewCronAuctionScheduler(repo domain.SchedulerRepository, runner JobRunner, leader domain.LeaderElection,
	instanceID string, pollInterval time.Duration, log logger.Logger) *CronAuctionScheduler {
	return &CronAuctionScheduler{
		cron:         cron.New(cron.WithSeconds()),
		repo:         repo,
		runner:       runner,
		leader:       leader,
		instanceID:   instanceID,
		pollInterval: pollInterval,
		now:          time.Now,
		log:          log,
	}
}

func (s *CronAuctionScheduler) SetRunner(runner JobRunner) {
	s.runner = runner
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "poll_interval", s.pollInterval)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.pollInterval), func() {
		s.ProcessPendingJobs(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("Stopping auction scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *CronAuctionScheduler) ScheduleAuctionStart(ctx context.Context, auctionID string, startTime time.Time) error {
	return s.repo.CreateJob(ctx, s.newJob(auctionID, domain.JobStartAuction, startTime))
}

func (s *CronAuctionScheduler) ScheduleAuctionEnd(ctx context.Context, auctionID string, endTime time.Time) error {
	return s.repo.CreateJob(ctx, s.newJob(auctionID, domain.JobEndAuction, endTime))
}

func (s *CronAuctionScheduler) RescheduleAuctionEnd(ctx context.Context, auctionID string, newEndTime time.Time) error {
	// Cancel existing end jobs
	if err := s.repo.CancelJobsForAuction(ctx, auctionID); err != nil {
		return err
	}

	// Create new end job
	return s.ScheduleAuctionEnd(ctx, auctionID, newEndTime)
}

func (s *CronAuctionScheduler) CancelSchedule(ctx context.Context, auctionID string) error {
	return s.repo.CancelJobsForAuction(ctx, auctionID)
}

func (s *CronAuctionScheduler) newJob(auctionID string, jobType domain.JobType, runAt time.Time) *domain.ScheduledJob {
	return &domain.ScheduledJob{
		ID:        utils.GenerateID("job"),
		AuctionID: auctionID,
		JobType:   jobType,
		RunAt:     runAt,
		Status:    domain.JobPending,
		CreatedAt: s.now(),
	}
}

// ProcessPendingJobs runs every due job. Only the leader instance does work, so
// followers leave jobs pending instead of marking them executed.
func (s *CronAuctionScheduler) ProcessPendingJobs(ctx context.Context) {
	isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Failed to check leadership", "error", err)
		return
	}
	if !isLeader {
		return
	}

	jobs, err := s.repo.GetPendingJobs(ctx, s.now())
	if err != nil {
		s.log.Error("Failed to get pending jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.log.Info("Processing job", "job_id", job.ID, "type", job.JobType, "auction_id", job.AuctionID)

		var err error
		switch job.JobType {
		case domain.JobStartAuction:
			err = s.runner.StartAuction(ctx, job.AuctionID)
		case domain.JobEndAuction:
			err = s.runner.EndAuction(ctx, job.AuctionID)
		default:
			err = fmt.Errorf("unknown job type %q", job.JobType)
		}

		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("Dropping job that no longer applies", "job_id", job.ID, "auction_id", job.AuctionID, "error", err)
			if err := s.repo.UpdateJobStatus(ctx, job.ID, domain.JobCancelled); err != nil {
				s.log.Error("Failed to cancel job", "job_id", job.ID, "error", err)
			}
			continue
		}
		if err != nil {
			s.log.Error("Failed to execute job", "job_id", job.ID, "error", err)
			// Don't mark as executed on error, will retry
			continue
		}

		if err := s.repo.UpdateJobStatus(ctx, job.ID, domain.JobExecuted); err != nil {
			s.log.Error("Failed to mark job executed", "job_id", job.ID, "error", err)
		}
	}
}
