// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// RoundStats are the statistics of one round reported to a Progress.
type RoundStats struct {
	// Round number, starting at 1.
	Round int

	// Triangles and Points gathered on the leader in the round.
	Triangles, Points int

	// CoveredPixels of the composited frame.
	CoveredPixels int

	// Duration of the round, from the leader's point of view.
	Duration time.Duration
}

// Progress displays a progress bar over compositing rounds, with a table of the stats of the latest round.
//
// Updates are drawn asynchronously, so a slow terminal doesn't slow down the rounds.
type Progress struct {
	numRounds int
	bar       *progressbar.ProgressBar
	w         io.Writer

	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan RoundStats
	asyncUpdatesDone sync.WaitGroup
	totalDuration    time.Duration

	extraMetricFns []ExtraMetricFn
}

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// NewProgress creates a Progress for numRounds rounds, writing to os.Stdout.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func NewProgress(numRounds int, extraMetrics ...ExtraMetricFn) *Progress {
	return NewProgressWithWriter(os.Stdout, numRounds, extraMetrics...)
}

// NewProgressWithWriter creates a Progress writing to w.
func NewProgressWithWriter(w io.Writer, numRounds int, extraMetrics ...ExtraMetricFn) *Progress {
	p := &Progress{
		numRounds:      numRounds,
		w:              w,
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(w),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		statsTable:     newTable(),
		updates:        make(chan RoundStats, 100), // Large buffer so rounds are not blocked.
		extraMetricFns: extraMetrics,
	}
	p.bar = progressbar.NewOptions(numRounds,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rounds"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(w),
	)
	p.asyncUpdatesDone.Add(1)
	go p.drawUpdates()
	return p
}

// Update reports a finished round.
func (p *Progress) Update(stats RoundStats) {
	p.updates <- stats
}

func (p *Progress) drawUpdates() {
	defer p.asyncUpdatesDone.Done()
	for update := range p.updates {
		// Exhaust the updates in the buffer:
		amount := 1
		p.totalDuration += update.Duration
	exhaust:
		for {
			select {
			case newUpdate, ok := <-p.updates:
				if !ok {
					break exhaust
				}
				amount++
				p.totalDuration += newUpdate.Duration
				update = newUpdate
			default:
				break exhaust
			}
		}

		// Create the table to be printed.
		p.statsTable.Data(lgtable.NewStringData())
		p.statsTable.Row("Round", fmt.Sprintf("%s of %s", humanize.Comma(int64(update.Round)), humanize.Comma(int64(p.numRounds))))
		p.statsTable.Row("Round duration", FormatDuration(update.Duration))
		p.statsTable.Row("Mean round duration", FormatDuration(p.totalDuration/time.Duration(max(update.Round, 1))))
		p.statsTable.Row("Triangles", humanize.Comma(int64(update.Triangles)))
		p.statsTable.Row("Points", humanize.Comma(int64(update.Points)))
		p.statsTable.Row("Covered pixels", humanize.Comma(int64(update.CoveredPixels)))
		for _, extraMetric := range p.extraMetricFns {
			name, value := extraMetric()
			p.statsTable.Row(name, value)
		}

		// For command-line, we clear the previous lines that will be overwritten.
		p.termenv.HideCursor()
		if !p.isFirstOutput {
			numLinesToBackup := numStatsRows + len(p.extraMetricFns) + 2 + 2
			p.termenv.CursorPrevLine(numLinesToBackup)
		}
		p.isFirstOutput = false

		// Print update.
		_, _ = fmt.Fprintln(p.w, p.statsStyle.Render(p.statsTable.String()))
		_ = p.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(p.w)
		p.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// numStatsRows is the number of fixed rows of the stats table.
const numStatsRows = 6

// Done waits for all updates to be drawn and finishes the display. Update can't be called afterward.
func (p *Progress) Done() {
	close(p.updates)
	p.asyncUpdatesDone.Wait()
	p.termenv.ShowCursor()
	_, _ = fmt.Fprintln(p.w)
}
