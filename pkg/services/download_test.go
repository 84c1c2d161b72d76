package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"vidproxy/pkg/downloader"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/types"
)

// fakeFFmpeg writes a script that reports a duration, creates its last
// argument and exits with status 0.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
for a; do out="$a"; done
printf '  Duration: 00:00:02.00, start: 0\n' >&2
printf 'frame=1 time=00:00:02.00 bitrate\r' >&2
printf 'data' > "$out"
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestDownloads(t *testing.T, env *testEnv, ffmpeg string) *DownloadService {
	t.Helper()
	s := NewDownloadService(env.videos, env.store, downloader.Options{
		FFmpegPath: ffmpeg,
		Workers:    1,
		QueueSize:  2,
	}, logging.Discard())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDownloadLifecycle(t *testing.T) {
	env := newTestEnv(t, embedPage(hlsSource))
	downloads := newTestDownloads(t, env, fakeFFmpeg(t))
	ctx := context.Background()

	report, err := downloads.Status(ctx, "abc123")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.Status != StatusNotStarted {
		t.Errorf("initial status = %q", report.Status)
	}

	ticket, err := downloads.Start(ctx, "abc123", 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ticket.FileName != "My Show_ Episode 1.mp4" {
		t.Errorf("FileName = %q", ticket.FileName)
	}
	if ticket.DownloadURL != "/downloads/abc123/My Show_ Episode 1.mp4" {
		t.Errorf("DownloadURL = %q", ticket.DownloadURL)
	}
	if ticket.JobURL != "/api/downloads/"+ticket.JobID {
		t.Errorf("JobURL = %q", ticket.JobURL)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	final, err := ticket.Job().Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.Status != types.DownloadStatusCompleted {
		t.Fatalf("final status = %s (%s)", final.Status, final.Error)
	}

	out := filepath.Join(env.outDir, "abc123", ticket.FileName)
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}

	stored, err := env.store.GetJob(ctx, ticket.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != types.DownloadStatusCompleted || stored.Progress != 100 {
		t.Errorf("stored job = %s %d", stored.Status, stored.Progress)
	}
	if stored.SourceURL != hlsSource {
		t.Errorf("download used %q, want the raw source file", stored.SourceURL)
	}

	report, err = downloads.Status(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != string(types.DownloadStatusCompleted) || len(report.Jobs) != 1 || len(report.Files) != 1 {
		t.Errorf("report = %+v", report)
	}

	p, err := downloads.Job(ctx, ticket.JobID)
	if err != nil || p.JobID != ticket.JobID {
		t.Errorf("Job = %+v, %v", p, err)
	}
	if _, err := downloads.Job(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing job err = %v", err)
	}
}

func TestDownloadStartErrors(t *testing.T) {
	t.Run("source index out of range", func(t *testing.T) {
		env := newTestEnv(t, embedPage(hlsSource))
		downloads := newTestDownloads(t, env, "ffmpeg")
		if _, err := downloads.Start(context.Background(), "abc123", 3); !errors.Is(err, ErrSourceIndex) {
			t.Errorf("err = %v, want ErrSourceIndex", err)
		}
	})

	t.Run("no sources", func(t *testing.T) {
		env := newTestEnv(t, "<script>"+pack(`jwplayer("v").setup({width:"100%"})`)+"</script>")
		downloads := newTestDownloads(t, env, "ffmpeg")
		if _, err := downloads.Start(context.Background(), "abc123", 0); !errors.Is(err, ErrNoSources) {
			t.Errorf("err = %v, want ErrNoSources", err)
		}
	})

	t.Run("invalid video id", func(t *testing.T) {
		env := newTestEnv(t, embedPage(hlsSource))
		downloads := newTestDownloads(t, env, "ffmpeg")
		if _, err := downloads.Start(context.Background(), "a/b", 0); !errors.Is(err, ErrInvalidVideoID) {
			t.Errorf("err = %v, want ErrInvalidVideoID", err)
		}
	})
}

func TestMarkInterrupted(t *testing.T) {
	env := newTestEnv(t, "")
	downloads := newTestDownloads(t, env, "ffmpeg")
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	for _, p := range []types.DownloadProgress{
		{JobID: "j-running", VideoID: "v", SourceURL: "https://h/m.m3u8", OutputPath: "o.mp4", Status: types.DownloadStatusDownloading, CreatedAt: started, StartedAt: &started},
		{JobID: "j-done", VideoID: "v", SourceURL: "https://h/m.m3u8", OutputPath: "o.mp4", Status: types.DownloadStatusCompleted, Progress: 100, CreatedAt: started},
	} {
		if err := env.store.SaveJob(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	if err := downloads.MarkInterrupted(ctx); err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}

	running, err := env.store.GetJob(ctx, "j-running")
	if err != nil {
		t.Fatal(err)
	}
	if running.Status != types.DownloadStatusFailed || running.Error == "" || running.FinishedAt == nil {
		t.Errorf("interrupted job = %+v", running)
	}
	done, err := env.store.GetJob(ctx, "j-done")
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != types.DownloadStatusCompleted {
		t.Errorf("completed job changed to %s", done.Status)
	}
}

func TestOutputFileName(t *testing.T) {
	tests := []struct {
		title, videoID, want string
	}{
		{"Episode 1", "abc", "Episode 1.mp4"},
		{"a/b\\c:d", "abc", "a_b_c_d.mp4"},
		{"  ..  ", "abc", "abc.mp4"},
		{"", "abc", "abc.mp4"},
		{"", "", "video.mp4"},
		{"tab\there", "", "tabhere.mp4"},
	}
	for _, tt := range tests {
		d := &types.VideoDescriptor{Title: tt.title, VideoID: tt.videoID}
		if got := OutputFileName(d); got != tt.want {
			t.Errorf("OutputFileName(%q, %q) = %q, want %q", tt.title, tt.videoID, got, tt.want)
		}
	}
}
