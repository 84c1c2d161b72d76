package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"vidproxy/pkg/logging"
	"vidproxy/pkg/types"
)

// fakeFFmpeg writes a shell script that records its arguments in an args
// file next to it, sets $out to the last argument and then runs body.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\n" +
		"for a; do out=\"$a\"; done\n" +
		"printf '%s\\n' \"$@\" > \"" + filepath.Join(dir, "args") + "\"\n" +
		body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitJob(t *testing.T, job *Job) (types.DownloadProgress, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := job.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("job did not finish")
	}
	return p, err
}

func TestDownloadCompletes(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `printf '  Duration: 00:00:10.00, start: 0\n' >&2
printf 'frame=1 time=00:00:04.00 bitrate\r' >&2
printf 'frame=2 time=00:00:08.00 bitrate\r' >&2
: > "$out"
exit 0`)

	var (
		mu      sync.Mutex
		updates []types.DownloadProgress
	)
	o := New(Options{
		FFmpegPath: ffmpeg,
		Workers:    1,
		QueueSize:  1,
		OnUpdate: func(p types.DownloadProgress) {
			mu.Lock()
			updates = append(updates, p)
			mu.Unlock()
		},
	}, logging.Discard())
	defer o.Close()

	out := filepath.Join(t.TempDir(), "v1", "video.mp4")
	job, err := o.Start(context.Background(), "https://cdn/master.m3u8", out, "a=1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p, err := waitJob(t, job)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p.Status != types.DownloadStatusCompleted || p.Progress != 100 {
		t.Errorf("final = %s %d", p.Status, p.Progress)
	}
	if p.Duration == nil || *p.Duration != 10 {
		t.Errorf("Duration = %v", p.Duration)
	}
	if p.ExitCode == nil || *p.ExitCode != 0 || p.FinishedAt == nil {
		t.Errorf("exit/finished = %v/%v", p.ExitCode, p.FinishedAt)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not created: %v", err)
	}

	args, err := os.ReadFile(filepath.Join(filepath.Dir(ffmpeg), "args"))
	if err != nil {
		t.Fatal(err)
	}
	wantArgs := []string{"-headers", "Cookie: a=1\r", "Referer: " + DefaultReferer + "\r", "", "-i", "https://cdn/master.m3u8", "-c", "copy", "-bsf:a", "aac_adtstoasc", "-y", out}
	if got := strings.Split(strings.TrimSuffix(string(args), "\n"), "\n"); strings.Join(got, "|") != strings.Join(wantArgs, "|") {
		t.Errorf("args = %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) < 3 {
		t.Fatalf("got %d updates", len(updates))
	}
	if updates[0].Status != types.DownloadStatusQueued || updates[1].Status != types.DownloadStatusDownloading {
		t.Errorf("first statuses = %s, %s", updates[0].Status, updates[1].Status)
	}
	last := 0
	for _, u := range updates {
		if u.Status == types.DownloadStatusDownloading && u.Progress < last {
			t.Errorf("progress decreased: %d after %d", u.Progress, last)
		}
		last = u.Progress
	}
	if updates[len(updates)-1].Status != types.DownloadStatusCompleted {
		t.Errorf("last update = %s", updates[len(updates)-1].Status)
	}
}

func TestDownloadFailsWithExitCode(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `printf 'Server returned 403 Forbidden\n' >&2
exit 3`)
	o := New(Options{FFmpegPath: ffmpeg, Workers: 1}, logging.Discard())
	defer o.Close()

	job, err := o.Start(context.Background(), "https://cdn/master.m3u8", filepath.Join(t.TempDir(), "x.mp4"), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p, err := waitJob(t, job)
	var procErr *ProcessError
	if !errors.As(err, &procErr) || procErr.ExitCode != 3 {
		t.Fatalf("err = %v", err)
	}
	if p.Status != types.DownloadStatusFailed || p.Error != "ffmpeg exited with code 3" {
		t.Errorf("final = %s %q", p.Status, p.Error)
	}
	if p.ExitCode == nil || *p.ExitCode != 3 {
		t.Errorf("ExitCode = %v", p.ExitCode)
	}
}

func TestDownloadSpawnError(t *testing.T) {
	o := New(Options{FFmpegPath: filepath.Join(t.TempDir(), "missing-ffmpeg"), Workers: 1}, logging.Discard())
	defer o.Close()

	job, err := o.Start(context.Background(), "https://cdn/master.m3u8", filepath.Join(t.TempDir(), "x.mp4"), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p, err := waitJob(t, job)
	var procErr *ProcessError
	if !errors.As(err, &procErr) || procErr.ExitCode != -1 {
		t.Fatalf("err = %v", err)
	}
	if p.Status != types.DownloadStatusFailed || p.Error == "" || p.ExitCode != nil {
		t.Errorf("final = %+v", p)
	}
}

func TestQueueBackpressure(t *testing.T) {
	gate := filepath.Join(t.TempDir(), "gate")
	ffmpeg := fakeFFmpeg(t, `while [ ! -f "`+gate+`" ]; do sleep 0.05; done
exit 0`)

	o := New(Options{FFmpegPath: ffmpeg, Workers: 1, QueueSize: 1}, logging.Discard())
	defer o.Close()

	dir := t.TempDir()
	ctx := context.Background()
	first, err := o.Start(ctx, "https://cdn/1.m3u8", filepath.Join(dir, "1.mp4"), "")
	if err != nil {
		t.Fatalf("Start 1: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for first.Progress().Status != types.DownloadStatusDownloading {
		if time.Now().After(deadline) {
			t.Fatal("first job never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second, err := o.Start(ctx, "https://cdn/2.m3u8", filepath.Join(dir, "2.mp4"), "")
	if err != nil {
		t.Fatalf("Start 2: %v", err)
	}
	if second.Progress().Status != types.DownloadStatusQueued {
		t.Errorf("second status = %s, want queued", second.Progress().Status)
	}

	if _, err := o.Start(ctx, "https://cdn/3.m3u8", filepath.Join(dir, "3.mp4"), ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Start 3 err = %v, want ErrQueueFull", err)
	}

	if err := os.WriteFile(gate, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, job := range []*Job{first, second} {
		if p, err := waitJob(t, job); err != nil || p.Status != types.DownloadStatusCompleted {
			t.Errorf("job %s = %s, %v", job.ID(), p.Status, err)
		}
	}

	if got := len(o.List()); got != 2 {
		t.Errorf("List has %d jobs, want 2", got)
	}
	if _, ok := o.Get(second.ID()); !ok {
		t.Error("Get did not find second job")
	}
}

func TestCloseFailsPendingJobs(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `exec sleep 30`)
	o := New(Options{FFmpegPath: ffmpeg, Workers: 1, QueueSize: 2}, logging.Discard())

	dir := t.TempDir()
	running, err := o.Start(context.Background(), "https://cdn/1.m3u8", filepath.Join(dir, "1.mp4"), "")
	if err != nil {
		t.Fatal(err)
	}
	for running.Progress().Status != types.DownloadStatusDownloading {
		time.Sleep(10 * time.Millisecond)
	}
	queued, err := o.Start(context.Background(), "https://cdn/2.m3u8", filepath.Join(dir, "2.mp4"), "")
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
	for _, job := range []*Job{running, queued} {
		p, err := waitJob(t, job)
		if err == nil || p.Status != types.DownloadStatusFailed {
			t.Errorf("job %s = %s, %v", job.ID(), p.Status, err)
		}
	}

	if _, err := o.Start(context.Background(), "https://cdn/3.m3u8", filepath.Join(dir, "3.mp4"), ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close err = %v", err)
	}
}

func TestSubmitValidates(t *testing.T) {
	o := New(Options{Workers: 1}, logging.Discard())
	defer o.Close()

	if _, err := o.Submit(context.Background(), Request{OutputPath: "x.mp4"}); err == nil {
		t.Error("expected error without source url")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Start(ctx, "https://cdn/1.m3u8", "x.mp4", ""); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
