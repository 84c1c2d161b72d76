// Package rewriter turns every URI referenced by an HLS manifest into a
// same-origin proxy link while leaving the rest of the manifest untouched.
package rewriter

import (
	"fmt"
	"net/url"
	"strings"

	"vidproxy/pkg/logging"
	"vidproxy/pkg/urlutil"
)

// uriLocation says where a tag keeps its URI.
type uriLocation int

const (
	nextLine uriLocation = iota
	quotedAttribute
)

// pass rewrites the URIs of one tag form.
type pass struct {
	tag      string
	location uriLocation
	address  func(a Addresser, target, videoID string) string
}

var passes = []pass{
	{"#EXT-X-STREAM-INF:", nextLine, Addresser.ManifestURI},
	{"#EXT-X-MEDIA:", quotedAttribute, Addresser.MediaURI},
	{"#EXTINF:", nextLine, Addresser.SegmentURI},
	{"#EXT-X-KEY:", quotedAttribute, Addresser.SegmentURI},
	{"#EXT-X-MAP:", quotedAttribute, Addresser.SegmentURI},
	{"#EXT-X-BYTERANGE:", nextLine, Addresser.SegmentURI},
}

// Rewriter rewrites manifests against a fixed Addresser.
type Rewriter struct {
	addr Addresser
	log  *logging.Logger
}

// New creates a Rewriter.
func New(addr Addresser, log *logging.Logger) *Rewriter {
	return &Rewriter{
		addr: addr,
		log:  log.WithComponent("rewriter"),
	}
}

// Addresser returns the proxy addressing scheme used by the rewriter.
func (r *Rewriter) Addresser() Addresser {
	return r.addr
}

// Rewrite replaces every recognised URI in text with a proxy URI. baseURL is
// the URL the manifest was fetched from. On any internal failure the input is
// returned unchanged.
func (r *Rewriter) Rewrite(text, baseURL, videoID string) (out string) {
	if text == "" || baseURL == "" {
		return text
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("manifest rewrite failed, returning original", "base_url", baseURL, "error", fmt.Sprint(rec))
			out = text
		}
	}()

	if _, err := url.Parse(baseURL); err != nil {
		r.log.Warn("manifest rewrite failed, returning original", "base_url", baseURL, "error", err)
		return text
	}

	lines := strings.Split(text, "\n")
	rewritten := 0
	for _, p := range passes {
		rewritten += r.apply(p, lines, baseURL, videoID)
	}

	r.log.Debug("manifest rewritten", "base_url", baseURL, "video_id", videoID, "uris", rewritten)
	return strings.Join(lines, "\n")
}

// apply runs one pass over lines in place and returns the number of URIs replaced.
func (r *Rewriter) apply(p pass, lines []string, baseURL, videoID string) int {
	n := 0
	for i := 0; i < len(lines); i++ {
		body, eol := splitEOL(lines[i])
		if !strings.HasPrefix(strings.TrimLeft(body, " \t"), p.tag) {
			continue
		}

		switch p.location {
		case quotedAttribute:
			if replaced, ok := r.rewriteAttribute(body, p, baseURL, videoID); ok {
				lines[i] = replaced + eol
				n++
			}
		case nextLine:
			if i+1 >= len(lines) {
				continue
			}
			next, nextEOL := splitEOL(lines[i+1])
			uri := strings.TrimSpace(next)
			if uri == "" || strings.HasPrefix(uri, "#") || r.addr.IsProxyURI(uri) {
				continue
			}
			target := urlutil.ResolveURI(uri, baseURL)
			lines[i+1] = p.address(r.addr, target, videoID) + nextEOL
			n++
		}
	}
	return n
}

// rewriteAttribute replaces the value of the URI="..." attribute on a tag line.
func (r *Rewriter) rewriteAttribute(line string, p pass, baseURL, videoID string) (string, bool) {
	start, end, ok := findURIAttribute(line)
	if !ok {
		return line, false
	}
	uri := line[start:end]
	if strings.TrimSpace(uri) == "" || r.addr.IsProxyURI(uri) {
		return line, false
	}
	target := urlutil.ResolveURI(uri, baseURL)
	return line[:start] + p.address(r.addr, target, videoID) + line[end:], true
}

// findURIAttribute locates the value of a URI="..." attribute, skipping
// attributes whose names merely end in URI and quoted values of other
// attributes.
func findURIAttribute(line string) (start, end int, ok bool) {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '"':
			inQuote = !inQuote
		case !inQuote && strings.HasPrefix(line[i:], `URI="`):
			if i > 0 && line[i-1] != ':' && line[i-1] != ',' && line[i-1] != ' ' {
				continue
			}
			start = i + len(`URI="`)
			closing := strings.IndexByte(line[start:], '"')
			if closing < 0 {
				return 0, 0, false
			}
			return start, start + closing, true
		}
	}
	return 0, 0, false
}

func splitEOL(line string) (body, eol string) {
	if strings.HasSuffix(line, "\r") {
		return line[:len(line)-1], "\r"
	}
	return line, ""
}
