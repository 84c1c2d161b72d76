package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"vidproxy/pkg/downloader"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/types"
)

func TestRenderDescriptor(t *testing.T) {
	d := types.NewVideoDescriptor()
	d.VideoID = "abc123"
	d.Title = "Episode 1"
	d.Sources = []types.Source{
		{File: "https://cdn.h/hls/master.m3u8", Kind: types.SourceKindHLS, ProxyURI: "/api/proxy/m3u8?url=x&videoId=abc123"},
		{File: "https://cdn.h/file.mp4", Kind: types.SourceKindMP4},
	}
	d.Tracks = []types.Track{{File: "https://cdn.h/en.vtt", Label: "English", Kind: "captions"}}
	d.QualityLabels = map[string]string{"720": "HD", "1080": "FHD"}
	d.SimpleCookieHeader = "lang=1"

	var buf bytes.Buffer
	RenderDescriptor(&buf, d)
	out := buf.String()

	for _, want := range []string{
		"Episode 1  [abc123]",
		"PLAYBACK URL",
		"/api/proxy/m3u8?url=x&videoId=abc123",
		"https://cdn.h/file.mp4",
		"English",
		"quality labels: 1080=FHD, 720=HD",
		"cookies: lang=1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderDescriptorWithoutSources(t *testing.T) {
	var buf bytes.Buffer
	RenderDescriptor(&buf, types.NewVideoDescriptor())
	if !strings.Contains(buf.String(), "(untitled)") || !strings.Contains(buf.String(), "no sources found") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestRenderVariants(t *testing.T) {
	var buf bytes.Buffer
	RenderVariants(&buf, []types.Variant{
		{URI: "https://h/high.m3u8", Bandwidth: 2400000, Resolution: "1280x720", Codecs: "avc1.64001f"},
	})
	for _, want := range []string{"BANDWIDTH", "2400000", "1280x720", "https://h/high.m3u8"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestWatch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	script := `#!/bin/sh
for a; do out="$a"; done
printf '  Duration: 00:00:02.00, start: 0\n' >&2
printf 'frame=1 time=00:00:01.00 bitrate\r' >&2
sleep 0.3
printf 'frame=2 time=00:00:02.00 bitrate\r' >&2
printf 'data' > "$out"
`
	if err := os.WriteFile(ffmpeg, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	orch := downloader.New(downloader.Options{FFmpegPath: ffmpeg, Workers: 1}, logging.Discard())
	defer orch.Close()

	PollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := orch.Start(ctx, "https://h/master.m3u8", filepath.Join(dir, "out.mp4"), "")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	final, err := Watch(ctx, &buf, job, "Episode 1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if final.Status != types.DownloadStatusCompleted || final.Progress != 100 {
		t.Errorf("final = %+v", final)
	}
	if !strings.Contains(buf.String(), "Episode 1") {
		t.Errorf("progress output = %q", buf.String())
	}
}
