package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"vidproxy/pkg/cache"
	"vidproxy/pkg/logging"
	"vidproxy/pkg/rewriter"
	"vidproxy/pkg/store"
	"vidproxy/pkg/types"
	"vidproxy/pkg/unpacker"
)

var wordRe = regexp.MustCompile(`\b\w+\b`)

// pack builds a packer call for src with radix 62.
func pack(src string) string {
	index := map[string]int{}
	var keywords []string
	payload := wordRe.ReplaceAllStringFunc(src, func(w string) string {
		i, ok := index[w]
		if !ok {
			i = len(keywords)
			index[w] = i
			keywords = append(keywords, w)
		}
		return base62(i)
	})
	esc := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return fmt.Sprintf(
		"eval(function(p,a,c,k,e,d){while(c--)if(k[c])p=p.replace(new RegExp('\\\\b'+e(c)+'\\\\b','g'),k[c]);return p}('%s',62,%d,'%s'.split('|'),0,{}))",
		esc.Replace(payload), len(keywords), strings.Join(keywords, "|"),
	)
}

func base62(c int) string {
	var prefix string
	if c >= 62 {
		prefix = base62(c / 62)
	}
	c %= 62
	switch {
	case c < 10:
		return prefix + string(rune('0'+c))
	case c < 36:
		return prefix + string(rune('a'+c-10))
	default:
		return prefix + string(rune('A'+c-36))
	}
}

const playerSetup = `var player = jwplayer("vplayer");
player.setup({
	sources: [{file:"%s"}],
	image: "https://img.h/abc_xt.jpg",
	tracks: [{file:"https://cdn.h/sub/en.vtt", label:"English", kind:"captions"}],
	file_code: "My Show: Episode 1"
});
$.get('/dl?op=view&b=43620805&embed=1');`

// embedPage returns an embed page whose packed player script lists source.
func embedPage(source string) string {
	script := pack(fmt.Sprintf(playerSetup, source))
	return "<html><head><script src=\"/js/jquery.js\"></script></head><body>" +
		"<div id=\"vplayer\"></div><script type=\"text/javascript\">" + script + "</script></body></html>"
}

type fakePages struct {
	mu    sync.Mutex
	html  string
	err   error
	calls int
}

func (f *fakePages) AcquirePage(ctx context.Context, videoID string) (*types.PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.PageResult{
		HTML:               f.html,
		CookieHeader:       "file_id=43620805; aff=40302; ref_url=animedub.pro; lang=1; sid=abc",
		SimpleCookieHeader: "file_id=43620805; aff=40302; ref_url=animedub.pro; lang=1",
		RawCookies:         []string{"sid=abc; Path=/; HttpOnly"},
		Cookies: []types.CookieRecord{
			{Name: "sid", Value: "abc", Attributes: map[string]any{"Path": "/", "HttpOnly": true}, Raw: "sid=abc; Path=/; HttpOnly"},
		},
	}, nil
}

func (f *fakePages) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	store  *store.Store
	cache  *cache.DescriptorCache
	videos *VideoService
	pages  *fakePages
	outDir string
}

func newTestEnv(t *testing.T, html string) *testEnv {
	t.Helper()
	log := logging.Discard()

	st, err := store.Open(":memory:", log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := cache.New(st, time.Hour, log)
	pages := &fakePages{html: html}
	outDir := t.TempDir()
	return &testEnv{
		store:  st,
		cache:  c,
		pages:  pages,
		outDir: outDir,
		videos: NewVideoService(pages, rewriter.NewAddresser(""), st, c, outDir, log),
	}
}

func TestPackHelperRoundTrip(t *testing.T) {
	src := fmt.Sprintf(playerSetup, "https://cdn.h/hls/master.m3u8")
	if got := unpacker.Unpack(pack(src)); !strings.Contains(got, "https://cdn.h/hls/master.m3u8") {
		t.Fatalf("unpacked text lost the source: %q", got)
	}
}
