package downloader

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	durationRe = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

// ProgressParser reads ffmpeg diagnostic output incrementally. Lines may be
// split across chunks and may end in \r (ffmpeg's in-place status line) or \n.
type ProgressParser struct {
	pending     string
	duration    float64
	hasDuration bool
	current     float64
	hasCurrent  bool
	progress    int
}

// Feed consumes a chunk of output and reports whether the state changed.
func (p *ProgressParser) Feed(chunk []byte) bool {
	p.pending += string(chunk)

	changed := false
	for {
		idx := strings.IndexAny(p.pending, "\r\n")
		if idx < 0 {
			break
		}
		line := p.pending[:idx]
		p.pending = p.pending[idx+1:]
		if p.parseLine(line) {
			changed = true
		}
	}
	return changed
}

// Flush parses any trailing partial line.
func (p *ProgressParser) Flush() bool {
	line := p.pending
	p.pending = ""
	return p.parseLine(line)
}

func (p *ProgressParser) parseLine(line string) bool {
	if line == "" {
		return false
	}
	changed := false

	if !p.hasDuration {
		if m := durationRe.FindStringSubmatch(line); m != nil {
			p.duration = clockSeconds(m[1], m[2], m[3])
			p.hasDuration = true
			changed = true
		}
	}

	if ms := timeRe.FindAllStringSubmatch(line, -1); ms != nil {
		m := ms[len(ms)-1]
		p.current = clockSeconds(m[1], m[2], m[3])
		p.hasCurrent = true
		changed = true
	}

	if p.hasDuration && p.hasCurrent && p.duration > 0 {
		pct := int(math.Round(p.current / p.duration * 100))
		if pct > 100 {
			pct = 100
		}
		if pct > p.progress {
			p.progress = pct
		}
	}
	return changed
}

// Duration returns the total duration in seconds once known.
func (p *ProgressParser) Duration() (float64, bool) {
	return p.duration, p.hasDuration
}

// CurrentTime returns the last reported position in seconds.
func (p *ProgressParser) CurrentTime() (float64, bool) {
	return p.current, p.hasCurrent
}

// Progress returns the percentage done in [0,100]. It never decreases.
func (p *ProgressParser) Progress() int {
	return p.progress
}

func clockSeconds(h, m, s string) float64 {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.ParseFloat(s, 64)
	return float64(hours*3600+minutes*60) + seconds
}
