// Package output renders load test results for people and for files.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/forgy/internal/performance/engine"
	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

const ruleWidth = 56

// ColorScheme defines the colors used for the summary.
type ColorScheme struct {
	Rule    *color.Color
	Title   *color.Color
	Section *color.Color
	Value   *color.Color
	Latency *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	Dim     *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Rule:    color.New(color.FgCyan),
		Title:   color.New(color.Bold),
		Section: color.New(color.Bold),
		Value:   color.New(color.FgCyan),
		Latency: color.New(color.FgBlue),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed),
		Dim:     color.New(color.Faint),
	}
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Rule, s.Title, s.Section, s.Value, s.Latency, s.Good, s.Warn, s.Bad, s.Dim}
}

// setEnabled forces colors on or off regardless of the global detection,
// which only looks at stdout.
func (s *ColorScheme) setEnabled(enabled bool) {
	for _, c := range s.all() {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// SummaryConfig configures a Summary.
type SummaryConfig struct {
	Writer  io.Writer
	NoColor bool
	Quiet   bool
}

// Summary prints the final result of a run.
type Summary struct {
	w      io.Writer
	colors *ColorScheme
	quiet  bool
}

// NewSummary creates a summary printer. Colors are used only when the writer
// is a terminal that supports them and NoColor is not set.
func NewSummary(cfg SummaryConfig) *Summary {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	colors := DefaultColorScheme()
	colors.setEnabled(!cfg.NoColor && isTerminal(cfg.Writer) && supportsColors())

	return &Summary{
		w:      cfg.Writer,
		colors: colors,
		quiet:  cfg.Quiet,
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	term := os.Getenv("TERM")
	return term != "dumb"
}

// Print writes the summary of result.
func (s *Summary) Print(result *engine.Result) {
	snap := result.Metrics
	if snap == nil {
		snap = &metrics.Snapshot{}
	}

	if s.quiet {
		fmt.Fprintf(s.w, "%s: %s requests, %.1f%% success in %s\n",
			s.status(result),
			formatNumber(snap.TotalRequests),
			snap.SuccessRate,
			formatDuration(result.Duration))
		return
	}

	rule := strings.Repeat("━", ruleWidth)
	name := result.Name
	if name == "" {
		name = "forgy"
	}

	s.colors.Rule.Fprintln(s.w, rule)
	fmt.Fprintf(s.w, "%s - %s\n", s.colors.Title.Sprint(name), s.status(result))
	s.colors.Rule.Fprintln(s.w, rule)
	fmt.Fprintln(s.w)

	s.row("Target", fmt.Sprintf("%s %s", result.Method, result.URL))
	s.row("Profile", fmt.Sprintf("%d VUs, ramp-up %s, hold %s, ramp-down %s",
		result.VUs, result.Profile.RampUp, result.Profile.Hold, result.Profile.RampDown))
	s.row("Duration", s.colors.Value.Sprint(formatDuration(result.Duration)))
	s.row("Total Reqs", s.colors.Value.Sprint(formatNumber(snap.TotalRequests)))
	s.row("Success Rate", s.rateColor(snap.SuccessRate).Sprintf("%.1f%%", snap.SuccessRate))
	s.row("Average RPS", s.colors.Value.Sprintf("%.1f", snap.AverageRPS))
	s.row("Data", fmt.Sprintf("%s sent, %s received",
		formatBytes(snap.TotalBytesSent), formatBytes(snap.TotalBytesReceived)))
	fmt.Fprintln(s.w)

	if snap.TotalRequests > 0 {
		s.colors.Section.Fprintln(s.w, "Status Classes:")
		for _, class := range metrics.StatusClasses {
			n := snap.StatusClasses[class]
			if n == 0 {
				continue
			}
			fmt.Fprintf(s.w, "  %-6s %s\n", s.classColor(class).Sprint(class), formatNumber(n))
		}
		fmt.Fprintln(s.w)
	}

	if len(snap.StatusCodes) > 0 {
		codes := make([]int, 0, len(snap.StatusCodes))
		for code := range snap.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		s.colors.Section.Fprintln(s.w, "Status Codes:")
		for _, code := range codes {
			fmt.Fprintf(s.w, "  %-6d %s\n", code, formatNumber(snap.StatusCodes[code]))
		}
		fmt.Fprintln(s.w)
	}

	if snap.Latency.Samples > 0 {
		l := snap.Latency
		s.colors.Section.Fprintln(s.w, "Latency Distribution:")
		s.latency("Min", l.MinMs)
		s.latency("P50", l.P50Ms)
		s.latency("P90", l.P90Ms)
		s.latency("P95", l.P95Ms)
		s.latency("P99", l.P99Ms)
		s.latency("Max", l.MaxMs)
		s.latency("Mean", l.MeanMs)
		fmt.Fprintln(s.w)
	}

	if result.Export != nil {
		e := result.Export
		failures := s.colors.Good.Sprint(e.Failures)
		if e.Failures > 0 {
			failures = s.colors.Bad.Sprint(e.Failures)
		}
		s.row("Export", fmt.Sprintf("%s, %d pushes, %s failed", e.Sink, e.Pushes, failures))
		if e.LastError != "" {
			s.row("Last Error", s.colors.Dim.Sprint(e.LastError))
		}
		fmt.Fprintln(s.w)
	}
}

func (s *Summary) status(result *engine.Result) string {
	if result.Interrupted {
		return s.colors.Warn.Sprint("Interrupted")
	}
	return s.colors.Good.Sprint("Completed ✓")
}

func (s *Summary) row(label, value string) {
	fmt.Fprintf(s.w, "%-14s %s\n", label+":", value)
}

func (s *Summary) latency(label string, ms float64) {
	fmt.Fprintf(s.w, "  %-9s %s\n", label+":", s.colors.Latency.Sprint(formatDurationShort(fromMillis(ms))))
}

func (s *Summary) rateColor(rate float64) *color.Color {
	switch {
	case rate >= 99:
		return s.colors.Good
	case rate >= 95:
		return s.colors.Warn
	default:
		return s.colors.Bad
	}
}

func (s *Summary) classColor(class metrics.StatusClass) *color.Color {
	switch class {
	case metrics.Class2xx, metrics.Class3xx:
		return s.colors.Good
	case metrics.Class4xx:
		return s.colors.Warn
	default:
		return s.colors.Bad
	}
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < 10*time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if n < 0 {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var b strings.Builder
	b.WriteString(sign)
	head := len(str) % 3
	if head > 0 {
		b.WriteString(str[:head])
	}
	for i := head; i < len(str); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

// formatBytes formats a byte count with binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
