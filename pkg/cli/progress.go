package cli

import (
	"context"
	"io"
	"time"

	"vidproxy/pkg/downloader"
	"vidproxy/pkg/types"

	"github.com/schollz/progressbar/v3"
)

// PollInterval is how often Watch samples a running job.
var PollInterval = 250 * time.Millisecond

// Watch draws job's progress on w until it resolves or ctx ends, and returns
// the final snapshot.
func Watch(ctx context.Context, w io.Writer, job *downloader.Job, description string) (types.DownloadProgress, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionOnCompletion(func() { io.WriteString(w, "\n") }),
	)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-job.Done():
			final := job.Progress()
			if final.Status == types.DownloadStatusCompleted {
				bar.Set(100)
			} else {
				bar.Exit()
				io.WriteString(w, "\n")
			}
			return final, nil
		case <-ticker.C:
			p := job.Progress()
			if p.Status == types.DownloadStatusQueued {
				bar.Describe(description + " (queued)")
				continue
			}
			bar.Describe(description)
			bar.Set(p.Progress)
		case <-ctx.Done():
			bar.Exit()
			return job.Progress(), ctx.Err()
		}
	}
}
