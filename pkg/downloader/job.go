package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vidproxy/pkg/types"
)

// ProcessError reports a failed ffmpeg run. ExitCode is -1 when the process
// could not be started or was killed.
type ProcessError struct {
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	}
	return e.Err.Error()
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Request describes one download.
type Request struct {
	VideoID    string
	SourceURL  string
	OutputPath string
	Cookies    string
}

// Job is a single download. It resolves exactly once, when its status
// becomes completed or failed.
type Job struct {
	req Request

	mu       sync.Mutex
	progress types.DownloadProgress
	err      error

	done chan struct{}
}

func newJob(id string, req Request, createdAt time.Time) *Job {
	return &Job{
		req: req,
		progress: types.DownloadProgress{
			JobID:      id,
			VideoID:    req.VideoID,
			SourceURL:  req.SourceURL,
			OutputPath: req.OutputPath,
			Status:     types.DownloadStatusQueued,
			CreatedAt:  createdAt,
		},
		done: make(chan struct{}),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.progress.JobID
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Progress returns a snapshot of the job state.
func (j *Job) Progress() types.DownloadProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return copyProgress(j.progress)
}

// Wait blocks until the job finishes or ctx ends. On failure the final
// snapshot is returned together with a *ProcessError.
func (j *Job) Wait(ctx context.Context) (types.DownloadProgress, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return j.Progress(), ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return copyProgress(j.progress), j.err
}

// update applies fn under the lock and returns the resulting snapshot.
func (j *Job) update(fn func(p *types.DownloadProgress)) types.DownloadProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.progress)
	return copyProgress(j.progress)
}

// finish records the terminal state. Waiters wake only on resolve, after the
// final snapshot has been published.
func (j *Job) finish(err error, fn func(p *types.DownloadProgress)) types.DownloadProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.progress)
	j.err = err
	return copyProgress(j.progress)
}

func (j *Job) resolve() {
	close(j.done)
}

func copyProgress(p types.DownloadProgress) types.DownloadProgress {
	out := p
	if p.Duration != nil {
		v := *p.Duration
		out.Duration = &v
	}
	if p.CurrentTime != nil {
		v := *p.CurrentTime
		out.CurrentTime = &v
	}
	if p.ExitCode != nil {
		v := *p.ExitCode
		out.ExitCode = &v
	}
	if p.StartedAt != nil {
		v := *p.StartedAt
		out.StartedAt = &v
	}
	if p.FinishedAt != nil {
		v := *p.FinishedAt
		out.FinishedAt = &v
	}
	return out
}
