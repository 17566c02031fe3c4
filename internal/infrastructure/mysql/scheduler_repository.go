package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-bidding/internal/domain"
)

const jobColumns = `id, auction_id, job_type, run_at, status, created_at`

// MySQLSchedulerRepository persists the start and end jobs of each auction so
// that a restarted or newly elected instance picks them up.
type MySQLSchedulerRepository struct {
	db *sql.DB
}

func NewMySQLSchedulerRepository(db *sql.DB) *MySQLSchedulerRepository {
	return &MySQLSchedulerRepository{db: db}
}

func (r *MySQLSchedulerRepository) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	query := `INSERT INTO scheduled_jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.AuctionID, string(job.JobType), job.RunAt.UTC(), string(job.Status), job.CreatedAt.UTC())
	if isDuplicateKey(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert %s job for auction %s: %w", job.JobType, job.AuctionID, err)
	}
	return nil
}

// GetPendingJobs returns due jobs, earliest first.
func (r *MySQLSchedulerRepository) GetPendingJobs(ctx context.Context, before time.Time) ([]*domain.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs
        WHERE status = ? AND run_at <= ?
        ORDER BY run_at ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, string(domain.JobPending), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus moves a pending job to its final status. A job that already
// left pending is left alone; only an unknown id is an error.
func (r *MySQLSchedulerRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ? WHERE id = ? AND status = ?`,
		string(status), jobID, string(domain.JobPending))
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM scheduled_jobs WHERE id = ?`, jobID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up job %s: %w", jobID, err)
	}
	return nil
}

func (r *MySQLSchedulerRepository) CancelJobsForAuction(ctx context.Context, auctionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ? WHERE auction_id = ? AND status = ?`,
		string(domain.JobCancelled), auctionID, string(domain.JobPending))
	if err != nil {
		return fmt.Errorf("cancel jobs for auction %s: %w", auctionID, err)
	}
	return nil
}

func scanJob(rows *sql.Rows) (*domain.ScheduledJob, error) {
	var (
		job     domain.ScheduledJob
		jobType string
		status  string
	)
	if err := rows.Scan(&job.ID, &job.AuctionID, &jobType, &job.RunAt, &status, &job.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan scheduled job: %w", err)
	}
	job.JobType = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	return &job, nil
}
