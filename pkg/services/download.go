package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vidproxy/pkg/downloader"
	"vidproxy/pkg/interfaces"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/store"
	"vidproxy/pkg/types"
)

var (
	// ErrNoSources is returned when a descriptor has nothing to download.
	ErrNoSources = errors.New("no video sources found")

	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("download job not found")
)

// StatusNotStarted is reported for videos with no jobs and no files.
const StatusNotStarted = "not_started"

// Ticket describes an accepted download.
type Ticket struct {
	JobID       string               `json:"jobId"`
	VideoID     string               `json:"videoId"`
	Title       string               `json:"title,omitempty"`
	FileName    string               `json:"fileName"`
	DownloadURL string               `json:"downloadUrl"`
	StatusURL   string               `json:"statusUrl"`
	JobURL      string               `json:"jobUrl"`
	Status      types.DownloadStatus `json:"status"`

	job *downloader.Job
}

// Job returns the running job behind the ticket.
func (t *Ticket) Job() *downloader.Job {
	return t.job
}

// StatusReport is the download state of one video.
type StatusReport struct {
	VideoID string                   `json:"videoId"`
	Status  string                   `json:"status"`
	Jobs    []types.DownloadProgress `json:"jobs"`
	Files   []types.DownloadedFile   `json:"files"`
}

// DownloadService turns descriptors into ffmpeg downloads and keeps every
// job state change in the job store.
type DownloadService struct {
	videos *VideoService
	orch   *downloader.Orchestrator
	jobs   interfaces.JobStore
	log    *logging.Logger
}

// NewDownloadService starts the download workers. jobs may be nil, in which
// case job state lives only in memory. An OnUpdate hook already set in opts
// still runs after each state change is persisted.
func NewDownloadService(videos *VideoService, jobs interfaces.JobStore, opts downloader.Options, log *logging.Logger) *DownloadService {
	s := &DownloadService{
		videos: videos,
		jobs:   jobs,
		log:    log.WithComponent("download-service"),
	}

	next := opts.OnUpdate
	opts.OnUpdate = func(p types.DownloadProgress) {
		s.persist(p)
		if next != nil {
			next(p)
		}
	}
	s.orch = downloader.New(opts, log)
	return s
}

// Start queues a download of the source at sourceIndex of videoID's
// descriptor, scraping the video first if no live descriptor is cached.
func (s *DownloadService) Start(ctx context.Context, videoID string, sourceIndex int) (*Ticket, error) {
	d, err := s.videos.Get(ctx, videoID, false)
	if err != nil {
		return nil, err
	}
	if len(d.Sources) == 0 {
		return nil, ErrNoSources
	}
	if sourceIndex < 0 || sourceIndex >= len(d.Sources) {
		return nil, fmt.Errorf("%w: %d", ErrSourceIndex, sourceIndex)
	}

	fileName := OutputFileName(d)
	job, err := s.orch.Submit(ctx, downloader.Request{
		VideoID:    videoID,
		SourceURL:  d.Sources[sourceIndex].File,
		OutputPath: filepath.Join(s.videos.OutputDir(videoID), fileName),
		Cookies:    d.UpstreamCookies(),
	})
	if err != nil {
		return nil, err
	}

	s.log.WithVideoID(videoID).Info("download started", "job_id", job.ID(), "source_index", sourceIndex, "file", fileName)
	return &Ticket{
		JobID:       job.ID(),
		VideoID:     videoID,
		Title:       d.Title,
		FileName:    fileName,
		DownloadURL: DownloadURL(videoID, fileName),
		StatusURL:   "/api/videos/" + videoID + "/download/status",
		JobURL:      "/api/downloads/" + job.ID(),
		Status:      job.Progress().Status,
		job:         job,
	}, nil
}

// Job returns the state of a job, live if it is still in memory.
func (s *DownloadService) Job(ctx context.Context, jobID string) (*types.DownloadProgress, error) {
	if job, ok := s.orch.Get(jobID); ok {
		p := job.Progress()
		return &p, nil
	}
	if s.jobs == nil {
		return nil, ErrJobNotFound
	}
	p, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return p, err
}

// Status reports every job of a video and the files it produced. The status
// is that of the newest job, else completed when files exist, else
// not_started.
func (s *DownloadService) Status(ctx context.Context, videoID string) (*StatusReport, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return nil, err
	}

	byID := map[string]types.DownloadProgress{}
	if s.jobs != nil {
		stored, err := s.jobs.ListJobs(ctx, videoID)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		for _, p := range stored {
			byID[p.JobID] = p
		}
	}
	for _, p := range s.orch.List() {
		if p.VideoID == videoID {
			byID[p.JobID] = p
		}
	}

	report := &StatusReport{
		VideoID: videoID,
		Jobs:    make([]types.DownloadProgress, 0, len(byID)),
		Files:   s.videos.DownloadedFiles(videoID),
	}
	for _, p := range byID {
		report.Jobs = append(report.Jobs, p)
	}
	sort.Slice(report.Jobs, func(i, j int) bool {
		return report.Jobs[i].CreatedAt.After(report.Jobs[j].CreatedAt)
	})

	switch {
	case len(report.Jobs) > 0:
		report.Status = string(report.Jobs[0].Status)
	case len(report.Files) > 0:
		report.Status = string(types.DownloadStatusCompleted)
	default:
		report.Status = StatusNotStarted
	}
	return report, nil
}

// MarkInterrupted fails stored jobs left unfinished by a previous process.
func (s *DownloadService) MarkInterrupted(ctx context.Context) error {
	if s.jobs == nil {
		return nil
	}
	stored, err := s.jobs.ListJobs(ctx, "")
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	marked := 0
	for _, p := range stored {
		if p.Status.Terminal() {
			continue
		}
		if _, live := s.orch.Get(p.JobID); live {
			continue
		}
		now := time.Now()
		p.Status = types.DownloadStatusFailed
		p.Error = "interrupted by restart"
		p.FinishedAt = &now
		if err := s.jobs.SaveJob(ctx, p); err != nil {
			return fmt.Errorf("save job %s: %w", p.JobID, err)
		}
		marked++
	}
	if marked > 0 {
		s.log.Warn("marked interrupted downloads as failed", "count", marked)
	}
	return nil
}

// Close stops the workers, failing queued and running jobs.
func (s *DownloadService) Close() error {
	return s.orch.Close()
}

func (s *DownloadService) persist(p types.DownloadProgress) {
	if s.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.jobs.SaveJob(ctx, p); err != nil {
		s.log.WithJob(p.JobID).WithError(err).Error("failed to persist job state", "status", p.Status)
	}
}

// OutputFileName names the mp4 for a descriptor: its title, else its video
// ID, else "video". Path separators and other characters unsafe in file
// names are replaced.
func OutputFileName(d *types.VideoDescriptor) string {
	for _, name := range []string{d.Title, d.VideoID} {
		if clean := sanitizeFileName(name); clean != "" {
			return clean + ".mp4"
		}
	}
	return "video.mp4"
}

func sanitizeFileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	clean = strings.TrimSpace(clean)
	clean = strings.Trim(clean, ".")
	return clean
}
