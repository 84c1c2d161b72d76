// Package downloader runs ffmpeg stream-copy downloads on a bounded worker
// pool and tracks their progress from ffmpeg's diagnostic output.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vidproxy/pkg/logging"
	"vidproxy/pkg/types"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned by Start when every worker is busy and the
	// pending queue has no free slot.
	ErrQueueFull = errors.New("download queue is full")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("downloader is closed")
)

// DefaultReferer is sent to the media host with every download.
const DefaultReferer = "https://zpjid.com/"

// Options configures an Orchestrator.
type Options struct {
	FFmpegPath string
	Referer    string
	Workers    int
	QueueSize  int

	// OnUpdate receives a snapshot on every state change. It is called from
	// worker goroutines and must not block for long.
	OnUpdate func(types.DownloadProgress)
}

// Orchestrator owns the worker pool and every job it has accepted.
type Orchestrator struct {
	opts  Options
	log   *logging.Logger
	queue chan *Job

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts an Orchestrator with opts.Workers workers.
func New(opts Options, log *logging.Logger) *Orchestrator {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Referer == "" {
		opts.Referer = DefaultReferer
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:   opts,
		log:    log.WithComponent("downloader"),
		queue:  make(chan *Job, opts.QueueSize),
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}

	o.log.Info("download workers started", "workers", opts.Workers, "queue_size", opts.QueueSize)
	return o
}

// Start queues a download and returns immediately.
func (o *Orchestrator) Start(ctx context.Context, sourceURL, outputPath, cookies string) (*Job, error) {
	return o.Submit(ctx, Request{SourceURL: sourceURL, OutputPath: outputPath, Cookies: cookies})
}

// Submit queues req. It never waits for a free slot: when the pool and its
// queue are saturated it returns ErrQueueFull.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.SourceURL == "" || req.OutputPath == "" {
		return nil, errors.New("source url and output path are required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	job := newJob(id.String(), req, time.Now())

	// Holding the job lock until the queued snapshot is published keeps a
	// worker's first update from overtaking it.
	job.mu.Lock()
	defer job.mu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	select {
	case o.queue <- job:
	default:
		o.mu.Unlock()
		o.log.Warn("rejecting download, queue full", "source", req.SourceURL)
		return nil, ErrQueueFull
	}
	o.jobs[job.ID()] = job
	o.mu.Unlock()

	o.log.WithJob(job.ID()).Info("download queued", "video_id", req.VideoID, "output", req.OutputPath)
	o.notify(copyProgress(job.progress))
	return job, nil
}

// Get returns a job by ID.
func (o *Orchestrator) Get(id string) (*Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[id]
	return job, ok
}

// List returns a snapshot of every job, newest first.
func (o *Orchestrator) List() []types.DownloadProgress {
	o.mu.RLock()
	out := make([]types.DownloadProgress, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job.Progress())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Close stops accepting jobs, kills running ffmpeg processes and waits for
// the workers. Jobs still queued are failed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()

	for {
		select {
		case job := <-o.queue:
			o.fail(job, &ProcessError{ExitCode: -1, Err: errors.New("downloader shut down")})
		default:
			o.log.Info("downloader stopped")
			return nil
		}
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case job := <-o.queue:
			o.run(job)
		}
	}
}

// run drives one ffmpeg process to completion.
func (o *Orchestrator) run(job *Job) {
	log := o.log.WithJob(job.ID())

	if err := o.ctx.Err(); err != nil {
		o.fail(job, &ProcessError{ExitCode: -1, Err: errors.New("downloader shut down")})
		return
	}

	started := time.Now()
	o.notify(job.update(func(p *types.DownloadProgress) {
		p.Status = types.DownloadStatusDownloading
		p.StartedAt = &started
	}))

	if err := os.MkdirAll(filepath.Dir(job.req.OutputPath), 0o755); err != nil {
		o.fail(job, &ProcessError{ExitCode: -1, Err: fmt.Errorf("create output directory: %w", err)})
		return
	}

	args := buildArgs(job.req, o.opts.Referer)
	cmd := exec.CommandContext(o.ctx, o.opts.FFmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		o.fail(job, &ProcessError{ExitCode: -1, Err: fmt.Errorf("create stderr pipe: %w", err)})
		return
	}

	log.Info("starting ffmpeg", "source", job.req.SourceURL, "output", job.req.OutputPath, "cookies", job.req.Cookies != "")
	if err := cmd.Start(); err != nil {
		o.fail(job, &ProcessError{ExitCode: -1, Err: err})
		return
	}

	tail := o.consume(job, stderr)
	waitErr := cmd.Wait()

	if waitErr == nil {
		code := 0
		snap := job.finish(nil, func(p *types.DownloadProgress) {
			now := time.Now()
			p.Status = types.DownloadStatusCompleted
			p.Progress = 100
			p.ExitCode = &code
			p.FinishedAt = &now
		})
		log.WithDuration(time.Since(started)).Info("download completed", "output", job.req.OutputPath)
		o.notify(snap)
		job.resolve()
		return
	}

	procErr := &ProcessError{ExitCode: -1, Err: waitErr}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
		procErr.ExitCode = exitErr.ExitCode()
	}
	if o.ctx.Err() != nil {
		procErr = &ProcessError{ExitCode: -1, Err: errors.New("download cancelled")}
	}
	log.Warn("download failed", "error", procErr.Error(), "ffmpeg_output", tail)
	o.fail(job, procErr)
}

// consume feeds stderr to a ProgressParser until EOF and returns the last
// part of the output for diagnostics.
func (o *Orchestrator) consume(job *Job, stderr io.Reader) string {
	var (
		parser ProgressParser
		tail   []byte
		buf    = make([]byte, 4096)
	)

	apply := func() {
		dur, hasDur := parser.Duration()
		cur, hasCur := parser.CurrentTime()
		pct := parser.Progress()

		var changed bool
		snap := job.update(func(p *types.DownloadProgress) {
			if hasDur && p.Duration == nil {
				p.Duration = &dur
				changed = true
			}
			if hasCur {
				p.CurrentTime = &cur
			}
			if pct > p.Progress {
				p.Progress = pct
				changed = true
			}
		})
		if changed {
			o.notify(snap)
		}
	}

	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			tail = append(tail, buf[:n]...)
			if len(tail) > 1000 {
				tail = tail[len(tail)-1000:]
			}
			if parser.Feed(buf[:n]) {
				apply()
			}
		}
		if err != nil {
			break
		}
	}
	if parser.Flush() {
		apply()
	}
	return string(tail)
}

func (o *Orchestrator) fail(job *Job, procErr *ProcessError) {
	snap := job.finish(procErr, func(p *types.DownloadProgress) {
		now := time.Now()
		p.Status = types.DownloadStatusFailed
		p.Error = procErr.Error()
		if procErr.ExitCode >= 0 {
			code := procErr.ExitCode
			p.ExitCode = &code
		}
		p.FinishedAt = &now
	})
	o.notify(snap)
	job.resolve()
}

func (o *Orchestrator) notify(p types.DownloadProgress) {
	if o.opts.OnUpdate != nil {
		o.opts.OnUpdate(p)
	}
}

// buildArgs returns the ffmpeg arguments: auth headers on the input request,
// stream copy, and the ADTS-to-ASC filter needed to put AAC in MP4.
func buildArgs(req Request, referer string) []string {
	return []string{
		"-headers", "Cookie: " + req.Cookies + "\r\nReferer: " + referer + "\r\n",
		"-i", req.SourceURL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-y",
		req.OutputPath,
	}
}
