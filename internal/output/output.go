package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/idanyas/speedprobe/internal/data"
)

// Printer renders results either as colored lines or, in JSON mode, as one
// document at the end of the run.
type Printer struct {
	w          io.Writer
	progress   io.Writer
	jsonOutput bool
	hideIP     bool
}

// New returns a printer writing results to w and progress bars to progress.
// A nil progress writer disables progress bars.
func New(w, progress io.Writer, jsonOutput, hideIP bool) *Printer {
	if jsonOutput {
		progress = nil
	}
	return &Printer{w: w, progress: progress, jsonOutput: jsonOutput, hideIP: hideIP}
}

func (p *Printer) JSON() bool { return p.jsonOutput }

func (p *Printer) check() string {
	return color.New(color.FgGreen).Sprint("✓")
}

func (p *Printer) Header(version, provider string) {
	if p.jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(p.w, "\n    speed v%s (%s)\n\n", version, provider)
}

// MaskIP hides the address part of a rendered client IP, keeping the region.
func MaskIP(clientIP string) string {
	if _, region, ok := strings.Cut(clientIP, " ("); ok {
		return "--- (" + region
	}
	return "---"
}

func (p *Printer) ServerInfo(info data.ServerInfo) data.ServerInfo {
	if p.hideIP {
		info.ClientIP = MaskIP(info.ClientIP)
	}
	if p.jsonOutput {
		return info
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	for _, line := range strings.Split(strings.TrimRight(info.String(), "\n"), "\n") {
		fmt.Fprintf(p.w, "%s %s\n", cyan("✓"), line)
	}
	fmt.Fprintln(p.w)
	return info
}

func (p *Printer) Latency(l data.Latency) {
	if p.jsonOutput {
		return
	}
	fmt.Fprintf(p.w, "%s Latency: %.2f ms (Median: %.2f ms, Jitter: %.2f ms, Min: %.2f ms, Max: %.2f ms) [%d/%d samples]\n",
		p.check(), l.Avg, l.Median, l.Jitter, l.Min, l.Max, l.Accepted, l.Attempts)
}

func (p *Printer) Tiers(tiers []data.Tier) {
	if p.jsonOutput {
		return
	}
	width := 0
	for _, t := range tiers {
		width = max(width, len(t.Label))
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, t := range tiers {
		if t.Summary == nil {
			fmt.Fprintf(p.w, "%s Download %-*s  %s [0/%d samples]\n", yellow("!"), width, t.Label, yellow("no data"), t.Attempts)
			continue
		}
		s := t.Summary
		fmt.Fprintf(p.w, "%s Download %-*s  %.2f Mbps (Min: %.2f, Max: %.2f) [%d/%d samples]\n",
			p.check(), width, t.Label, s.Avg, s.Min, s.Max, t.Accepted, t.Attempts)
	}
}

func (p *Printer) Result(r *data.TestResult) error {
	if !p.jsonOutput {
		return nil
	}
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (p *Printer) Warn(format string, args ...any) {
	if p.jsonOutput {
		return
	}
	color.New(color.FgYellow).Fprintf(p.w, "Warning: "+format+"\n", args...)
}

// Locations renders the location table sorted by country and city.
func (p *Printer) Locations(locs []data.Location) error {
	sorted := append([]data.Location(nil), locs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CCA2 != sorted[j].CCA2 {
			return sorted[i].CCA2 < sorted[j].CCA2
		}
		return sorted[i].City < sorted[j].City
	})

	if p.jsonOutput {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(sorted)
	}

	headers := []string{"IATA", "City", "Country", "Region"}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	rows := make([][]string, 0, len(sorted))
	for _, l := range sorted {
		row := []string{l.IATA, l.City, l.CCA2, l.Region}
		for i, c := range row {
			widths[i] = max(widths[i], len(c))
		}
		rows = append(rows, row)
	}

	writeRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], c)
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(parts, " "), " "))
	}
	writeRow(headers)
	dashes := make([]string, len(widths))
	for i, w := range widths {
		dashes[i] = strings.Repeat("-", w)
	}
	writeRow(dashes)
	for _, r := range rows {
		writeRow(r)
	}
	return nil
}

// Progress draws one progress bar per probe and satisfies probe.Callbacks.
type Progress struct {
	w     io.Writer
	bar   *progressbar.ProgressBar
	label string
}

// NewProgress returns nil callbacks when progress bars are disabled.
func (p *Printer) NewProgress() *Progress {
	if p.progress == nil {
		return nil
	}
	return &Progress{w: p.progress}
}

func (pr *Progress) OnProgress(done, total int, message string) {
	if pr == nil {
		return
	}
	kind, _, _ := strings.Cut(message, " ")
	if pr.bar == nil || pr.label != kind {
		pr.Finish()
		pr.label = kind
		pr.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(pr.w),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetWidth(30),
		)
	}
	pr.bar.Describe(message)
	_ = pr.bar.Set(done)
	if done >= total {
		pr.Finish()
	}
}

func (pr *Progress) Finish() {
	if pr == nil || pr.bar == nil {
		return
	}
	_ = pr.bar.Finish()
	pr.bar = nil
}
