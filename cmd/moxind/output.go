package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"moxind/pkg/types"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printModels(w io.Writer, models []types.Model, asJSON bool) error {
	if asJSON {
		return writeJSON(w, models)
	}
	if len(models) == 0 {
		fmt.Fprintln(w, "no models")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSIZE\tREQUIRES\tFILE\tQUANT\tBYTES")
	for _, m := range models {
		if len(m.Files) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t-\n", m.ID, m.Size, m.Requires)
			continue
		}
		for i, f := range m.Files {
			id, size, req := string(m.ID), m.Size, m.Requires
			if i > 0 {
				id, size, req = "", "", ""
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", id, size, req, f.ID, f.Quantization, humanBytes(f.Size))
		}
	}
	return tw.Flush()
}

func printFiles(w io.Writer, files []types.DownloadedFile, asJSON bool) error {
	if asJSON {
		return writeJSON(w, files)
	}
	if len(files) == 0 {
		fmt.Fprintln(w, "no downloaded files")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tMODEL\tSIZE\tCOMPATIBILITY\tDOWNLOADED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.File.ID, f.Model.ID,
			humanBytes(f.File.Size),
			f.CompatibilityGuess,
			humanize.Time(f.DownloadedAt),
		)
	}
	return tw.Flush()
}

func printStats(w io.Writer, d types.ChatCompletionData) {
	fmt.Fprintf(w, "tokens=%d/%d speed=%.1f tok/s first_token=%.2fs total=%.2fs stop=%s gpu_layers=%d threads=%d\n",
		d.TokenCount, d.TokenLimit, d.Speed, d.TimeToFirstToken, d.TimeToGenerate, d.StopReason, d.GPULayers, d.CPUThreads)
}

func humanBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

func joinArgs(args []string) string { return strings.Join(args, " ") }

// progressPrinter renders download progress in whole percents on one line.
type progressPrinter struct {
	w    io.Writer
	name string
	last int
}

func newProgressPrinter(w io.Writer, name string) *progressPrinter {
	return &progressPrinter{w: w, name: name, last: -1}
}

func (p *progressPrinter) update(f float32) {
	pct := int(f * 100)
	if pct == p.last {
		return
	}
	p.last = pct
	fmt.Fprintf(p.w, "\r%s %3d%%", p.name, pct)
}

func (p *progressPrinter) done() {
	if p.last >= 0 {
		fmt.Fprintln(p.w)
	}
}
