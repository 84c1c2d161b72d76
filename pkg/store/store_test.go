package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vidproxy/pkg/logging"
	"vidproxy/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "test.db"), logging.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDescriptor(id string) *types.VideoDescriptor {
	d := types.NewVideoDescriptor()
	d.VideoID = id
	d.Title = "title-" + id
	d.ThumbnailURL = "https://img/" + id + ".jpg"
	tok := "abc"
	d.Sources = []types.Source{{
		File:      "https://cdn/h/" + id + "/master.m3u8?t=abc",
		Kind:      types.SourceKindHLS,
		ProxyURI:  "/api/proxy/m3u8?url=x&videoId=" + id,
		URLParams: map[string]*string{"t": &tok, "asn": nil},
	}}
	d.Tracks = []types.Track{{File: "a.vtt", Label: "English", Kind: "captions"}}
	d.QualityLabels = map[string]string{"720": "HD"}
	d.PlaybackRates = []float64{1, 1.5}
	d.CookieHeader = "a=1; b=2"
	d.SimpleCookieHeader = "a=1"
	d.RawCookies = []string{"b=2; Path=/"}
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	d.Cookies = []types.CookieRecord{
		{Name: "a", Value: "1", Attributes: map[string]any{"path": "/"}, Raw: "a=1; path=/"},
		{Name: "b", Value: "2", Attributes: map[string]any{"Path": "/", "HttpOnly": true}, Raw: "b=2; Path=/; HttpOnly", ExpiresAt: &exp},
	}
	d.ScrapedAt = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return d
}

func TestDescriptorRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	in := sampleDescriptor("v1")

	if err := s.SaveDescriptor(ctx, in); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}
	got, err := s.GetDescriptor(ctx, "v1")
	if err != nil {
		t.Fatalf("GetDescriptor: %v", err)
	}

	if got.Title != in.Title || got.CookieHeader != in.CookieHeader || got.SimpleCookieHeader != in.SimpleCookieHeader {
		t.Errorf("scalar fields = %+v", got)
	}
	if !got.ScrapedAt.Equal(in.ScrapedAt) {
		t.Errorf("ScrapedAt = %v, want %v", got.ScrapedAt, in.ScrapedAt)
	}
	if len(got.Sources) != 1 || got.Sources[0].ProxyURI != in.Sources[0].ProxyURI {
		t.Fatalf("Sources = %+v", got.Sources)
	}
	if p := got.Sources[0].URLParams["t"]; p == nil || *p != "abc" {
		t.Errorf("URLParams[t] = %v", p)
	}
	if p, ok := got.Sources[0].URLParams["asn"]; !ok || p != nil {
		t.Errorf("URLParams[asn] = %v, %v", p, ok)
	}

	if len(got.Cookies) != 2 || got.Cookies[0].Name != "a" || got.Cookies[1].Name != "b" {
		t.Fatalf("Cookies = %+v", got.Cookies)
	}
	if got.Cookies[1].Attributes["HttpOnly"] != true || got.Cookies[1].Attributes["Path"] != "/" {
		t.Errorf("cookie attributes = %v", got.Cookies[1].Attributes)
	}
	if got.Cookies[0].ExpiresAt != nil {
		t.Error("cookie a should have no expiry")
	}
	if got.Cookies[1].ExpiresAt == nil || !got.Cookies[1].ExpiresAt.Equal(*in.Cookies[1].ExpiresAt) {
		t.Errorf("cookie b expiry = %v", got.Cookies[1].ExpiresAt)
	}
}

func TestSaveDescriptorReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := sampleDescriptor("v1")
	if err := s.SaveDescriptor(ctx, d); err != nil {
		t.Fatal(err)
	}
	d.Title = "renamed"
	d.Cookies = d.Cookies[:1]
	if err := s.SaveDescriptor(ctx, d); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDescriptor(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "renamed" || len(got.Cookies) != 1 {
		t.Errorf("got title %q with %d cookies", got.Title, len(got.Cookies))
	}

	all, err := s.ListDescriptors(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("ListDescriptors = %d, %v", len(all), err)
	}
}

func TestSaveDescriptorRequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveDescriptor(context.Background(), types.NewVideoDescriptor()); err == nil {
		t.Error("expected error for descriptor without id")
	}
}

func TestGetDescriptorNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDescriptor(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDescriptorsOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := sampleDescriptor("old")
	older.ScrapedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleDescriptor("new")
	newer.ScrapedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []*types.VideoDescriptor{older, newer} {
		if err := s.SaveDescriptor(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListDescriptors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].VideoID != "new" || all[1].VideoID != "old" {
		t.Errorf("order = %v", []string{all[0].VideoID, all[1].VideoID})
	}
}

func TestDeleteDescriptor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveDescriptor(ctx, sampleDescriptor("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveJob(ctx, sampleJob("j1", "v1")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDescriptor(ctx, "v1"); err != nil {
		t.Fatalf("DeleteDescriptor: %v", err)
	}
	if _, err := s.GetDescriptor(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("descriptor still present: %v", err)
	}
	if _, err := s.GetJob(ctx, "j1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("job still present: %v", err)
	}
	if cookies, err := s.cookies(ctx, "v1"); err != nil || len(cookies) != 0 {
		t.Errorf("cookies left behind: %v %v", cookies, err)
	}

	if err := s.DeleteDescriptor(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func sampleJob(jobID, videoID string) types.DownloadProgress {
	return types.DownloadProgress{
		JobID:      jobID,
		VideoID:    videoID,
		SourceURL:  "https://cdn/v.m3u8",
		OutputPath: "/out/" + videoID + "/v.mp4",
		Status:     types.DownloadStatusQueued,
		CreatedAt:  time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := sampleJob("j1", "v1")
	if err := s.SaveJob(ctx, p); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != types.DownloadStatusQueued || got.Duration != nil || got.ExitCode != nil || got.StartedAt != nil {
		t.Errorf("queued job = %+v", got)
	}

	dur, cur, code := 120.5, 120.5, 0
	started := p.CreatedAt.Add(time.Second)
	finished := started.Add(time.Minute)
	p.Status = types.DownloadStatusCompleted
	p.Progress = 100
	p.Duration = &dur
	p.CurrentTime = &cur
	p.ExitCode = &code
	p.StartedAt = &started
	p.FinishedAt = &finished
	if err := s.SaveJob(ctx, p); err != nil {
		t.Fatalf("SaveJob update: %v", err)
	}

	got, err = s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.DownloadStatusCompleted || got.Progress != 100 {
		t.Errorf("status %s progress %d", got.Status, got.Progress)
	}
	if got.Duration == nil || *got.Duration != dur || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("duration/exit = %v/%v", got.Duration, got.ExitCode)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v", got.FinishedAt)
	}
}

func TestListJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleJob("a", "v1")
	b := sampleJob("b", "v1")
	b.CreatedAt = a.CreatedAt.Add(time.Hour)
	c := sampleJob("c", "v2")
	for _, j := range []types.DownloadProgress{a, b, c} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := s.ListJobs(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].JobID != "b" || jobs[1].JobID != "a" {
		t.Errorf("v1 jobs = %+v", jobs)
	}

	all, err := s.ListJobs(ctx, "")
	if err != nil || len(all) != 3 {
		t.Errorf("all jobs = %d, %v", len(all), err)
	}

	none, err := s.ListJobs(ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("ListJobs(nobody) = %v, %v", none, err)
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.SaveDescriptor(context.Background(), sampleDescriptor("m")); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}
}
