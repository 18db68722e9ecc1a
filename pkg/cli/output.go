package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/run"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Steps at or above this duration are flagged as slow.
const slowThreshold = 5 * time.Second

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// formatDuration shows milliseconds below one second, seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dm %ds", ms/60000, (ms%60000)/1000)
}

// reporter prints run events live. Item outcomes of the top-level run are
// printed from its result once it ends.
type reporter struct {
	mu     sync.Mutex
	w      io.Writer
	rootID string
	seen   map[string]bool
}

func newReporter(w io.Writer) *reporter {
	return &reporter{w: w, seen: make(map[string]bool)}
}

func (p *reporter) Report(e run.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rootID == "" {
		p.rootID = e.RunID
	}
	depth := len(e.Chain) - 1
	if e.RunID != p.rootID {
		p.nested(e, depth)
		return
	}

	switch e.State {
	case run.StatePaused:
		next := "end of queue"
		if e.Item != nil {
			next = e.Item.String()
		}
		fmt.Fprintf(p.w, "  %s⏸%s paused before %s %s%s%s\n",
			color(colorCyan), color(colorReset), next, color(colorGray), allowedList(e.Allowed), color(colorReset))
	case run.StateFailed:
		fmt.Fprintf(p.w, "  %s✗%s %s failed: %s %s%s%s\n",
			color(colorRed), color(colorReset), e.Item, e.Message, color(colorGray), allowedList(e.Allowed), color(colorReset))
	}
}

// nested reports the start and end of child runs created by call.
func (p *reporter) nested(e run.Event, depth int) {
	indent := strings.Repeat("  ", 1+depth)
	name := e.Chain[len(e.Chain)-1]
	if !p.seen[e.RunID] {
		p.seen[e.RunID] = true
		fmt.Fprintf(p.w, "%s%s▸%s %s\n", indent, color(colorCyan), color(colorReset), name)
	}
	if !e.State.Terminal() {
		return
	}
	delete(p.seen, e.RunID)
	if e.Err == nil && e.State == run.StateFinished {
		fmt.Fprintf(p.w, "%s%s✓%s %s\n", indent, color(colorGreen), color(colorReset), name)
		return
	}
	fmt.Fprintf(p.w, "%s%s✗%s %s: %s\n", indent, color(colorRed), color(colorReset), name, e.Message)
}

func allowedList(actions []run.Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return "[" + strings.Join(names, " ") + "]"
}

// printResult lists item outcomes and the summary line.
func printResult(w io.Writer, name string, res *run.Result) {
	for _, it := range res.Items {
		desc := it.RealPath + " (" + it.Syntax + ")"
		if it.Attempt > 1 {
			desc += fmt.Sprintf(" attempt %d", it.Attempt)
		}
		dur := formatDuration(it.Duration)

		switch it.Status {
		case core.StatusPassed:
			symbol, symbolColor, durColor := "✓", color(colorGreen), ""
			if it.Duration >= slowThreshold && it.Syntax != "call" {
				symbol, symbolColor, durColor = "⚠", color(colorYellow), color(colorYellow)
			}
			fmt.Fprintf(w, "    %s%s%s %s %s(%s)%s\n",
				symbolColor, symbol, color(colorReset), desc, durColor, dur, color(colorReset))
		case core.StatusSkipped:
			fmt.Fprintf(w, "    %s-%s %s %s%s%s\n",
				color(colorCyan), color(colorReset), desc, color(colorGray), it.Message, color(colorReset))
		default:
			fmt.Fprintf(w, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, dur)
			if it.Error != "" {
				fmt.Fprintf(w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), it.Error)
			}
		}
	}
	if res.Dropped > 0 {
		fmt.Fprintf(w, "    %s%d items not run%s\n", color(colorGray), res.Dropped, color(colorReset))
	}

	s := res.Summary
	verdict := color(colorGreen) + "✓ PASS" + color(colorReset)
	if res.Outcome != run.OutcomePassed {
		verdict = color(colorRed) + "✗ " + strings.ToUpper(res.Outcome.String()) + color(colorReset)
	}
	fmt.Fprintf(w, "\n%s %s%s%s  %d passed, %d failed, %d skipped %s(%s)%s\n",
		verdict, color(colorBold), name, color(colorReset),
		s.Passed, s.Failed+s.Errored, s.Skipped,
		color(colorGray), formatDuration(res.Duration), color(colorReset))
}
