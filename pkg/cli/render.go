// Package cli renders scrape results and download progress on a terminal.
package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"vidproxy/pkg/types"

	"github.com/olekukonko/tablewriter"
)

// RenderDescriptor writes the title, sources and tracks of d as tables.
func RenderDescriptor(w io.Writer, d *types.VideoDescriptor) {
	title := d.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "%s  [%s]\n", title, d.VideoID)
	if d.ThumbnailURL != "" {
		fmt.Fprintf(w, "thumbnail: %s\n", d.ThumbnailURL)
	}
	fmt.Fprintln(w)

	sources := newTable(w, []string{"#", "Type", "Playback URL", "File"})
	for i, src := range d.Sources {
		playback, _ := d.BestPlaybackURI(i)
		sources.Append([]string{strconv.Itoa(i), string(src.Kind), playback, src.File})
	}
	if len(d.Sources) == 0 {
		sources.Append([]string{"-", "-", "no sources found", "-"})
	}
	sources.Render()

	if len(d.Tracks) > 0 {
		fmt.Fprintln(w)
		tracks := newTable(w, []string{"Label", "Kind", "File"})
		for _, tr := range d.Tracks {
			tracks.Append([]string{tr.Label, tr.Kind, tr.File})
		}
		tracks.Render()
	}

	if len(d.QualityLabels) > 0 {
		labels := make([]string, 0, len(d.QualityLabels))
		for k, v := range d.QualityLabels {
			labels = append(labels, k+"="+v)
		}
		sort.Strings(labels)
		fmt.Fprintf(w, "\nquality labels: %s\n", strings.Join(labels, ", "))
	}
	if d.UpstreamCookies() != "" {
		fmt.Fprintf(w, "cookies: %s\n", d.UpstreamCookies())
	}
}

// RenderVariants writes the renditions of a master playlist.
func RenderVariants(w io.Writer, variants []types.Variant) {
	table := newTable(w, []string{"Bandwidth", "Resolution", "Codecs", "URI"})
	for _, v := range variants {
		table.Append([]string{
			strconv.FormatUint(uint64(v.Bandwidth), 10),
			v.Resolution,
			v.Codecs,
			v.URI,
		})
	}
	table.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)
	return table
}
