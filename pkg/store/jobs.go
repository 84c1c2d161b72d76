package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vidproxy/pkg/types"

	"github.com/Masterminds/squirrel"
)

var jobColumns = []string{
	colJobID,
	colVideoID,
	colSourceURL,
	colOutputPath,
	colStatus,
	colProgress,
	colDuration,
	colCurrentTime,
	colError,
	colExitCode,
	colCreatedAt,
	colStartedAt,
	colFinishedAt,
}

// SaveJob inserts or updates a download job snapshot.
func (s *Store) SaveJob(ctx context.Context, p types.DownloadProgress) error {
	const upsertSuffix = "ON CONFLICT (" + colJobID + ") DO UPDATE SET " +
		colStatus + " = EXCLUDED." + colStatus + ", " +
		colProgress + " = EXCLUDED." + colProgress + ", " +
		colDuration + " = EXCLUDED." + colDuration + ", " +
		colCurrentTime + " = EXCLUDED." + colCurrentTime + ", " +
		colError + " = EXCLUDED." + colError + ", " +
		colExitCode + " = EXCLUDED." + colExitCode + ", " +
		colStartedAt + " = EXCLUDED." + colStartedAt + ", " +
		colFinishedAt + " = EXCLUDED." + colFinishedAt

	query := squirrel.
		Insert(tableJobs).
		Columns(jobColumns...).
		Values(
			p.JobID,
			p.VideoID,
			p.SourceURL,
			p.OutputPath,
			string(p.Status),
			p.Progress,
			nullFloat(p.Duration),
			nullFloat(p.CurrentTime),
			p.Error,
			nullInt(p.ExitCode),
			p.CreatedAt.UTC(),
			nullTime(p.StartedAt),
			nullTime(p.FinishedAt),
		).
		Suffix(upsertSuffix).
		RunWith(s.db)

	if _, err := query.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to save job %q: %w", p.JobID, err)
	}
	return nil
}

// GetJob returns one job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.DownloadProgress, error) {
	row := squirrel.
		Select(jobColumns...).
		From(tableJobs).
		Where(squirrel.Eq{colJobID: jobID}).
		RunWith(s.db).
		QueryRowContext(ctx)

	p, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job %q: %w", jobID, err)
	}
	return p, nil
}

// ListJobs returns the jobs of a video, newest first. An empty videoID lists
// every job.
func (s *Store) ListJobs(ctx context.Context, videoID string) ([]types.DownloadProgress, error) {
	query := squirrel.
		Select(jobColumns...).
		From(tableJobs).
		OrderBy(colCreatedAt + " DESC")
	if videoID != "" {
		query = query.Where(squirrel.Eq{colVideoID: videoID})
	}

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []types.DownloadProgress{}
	for rows.Next() {
		p, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *p)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*types.DownloadProgress, error) {
	var (
		p                   types.DownloadProgress
		status              string
		duration, current   sql.NullFloat64
		exitCode            sql.NullInt64
		startedAt, finished sql.NullTime
	)
	err := r.Scan(
		&p.JobID,
		&p.VideoID,
		&p.SourceURL,
		&p.OutputPath,
		&status,
		&p.Progress,
		&duration,
		&current,
		&p.Error,
		&exitCode,
		&p.CreatedAt,
		&startedAt,
		&finished,
	)
	if err != nil {
		return nil, err
	}

	p.Status = types.DownloadStatus(status)
	if duration.Valid {
		p.Duration = &duration.Float64
	}
	if current.Valid {
		p.CurrentTime = &current.Float64
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		p.ExitCode = &code
	}
	if startedAt.Valid {
		p.StartedAt = &startedAt.Time
	}
	if finished.Valid {
		p.FinishedAt = &finished.Time
	}
	return &p, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
