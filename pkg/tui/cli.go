// Package tui renders CLI output: styled headers, dataset tables,
// profile and quality reports, progress bars.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

var (
	accent  = lipgloss.Color("#FF6B00")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	failure = lipgloss.Color("#FF3333")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(failure).Bold(true)
)

// PrintHeader prints the tool banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  FILEFORGE") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Tabular workbook engine over an embedded analytical store"))
	fmt.Println()
}

// DatasetRow is one line of the dataset table.
type DatasetRow struct {
	Name        string
	RowCount    int64
	ColumnCount int
	SourcePath  string
}

// PrintDatasets prints the dataset listing as an aligned table.
func PrintDatasets(rows []DatasetRow) {
	if len(rows) == 0 {
		fmt.Println(mutedStyle.Render("  no datasets"))
		return
	}

	nameWidth := len("DATASET")
	for _, r := range rows {
		if len(r.Name) > nameWidth {
			nameWidth = len(r.Name)
		}
	}

	fmt.Printf("  %s  %12s  %8s  %s\n",
		mutedStyle.Render(pad("DATASET", nameWidth)),
		mutedStyle.Render("ROWS"),
		mutedStyle.Render("COLS"),
		mutedStyle.Render("SOURCE"))
	for _, r := range rows {
		fmt.Printf("  %s  %12s  %8d  %s\n",
			titleStyle.Render(pad(r.Name, nameWidth)),
			FormatNumber(r.RowCount),
			r.ColumnCount,
			mutedStyle.Render(r.SourcePath))
	}
}

// ColumnStat is one line of the profile table.
type ColumnStat struct {
	Name          string
	Type          string
	NullCount     int64
	DistinctCount int64
	Entropy       float64
	Min           string
	Max           string
}

// PrintProfile prints per-column statistics.
func PrintProfile(dataset string, rowCount int64, cols []ColumnStat) {
	fmt.Println()
	fmt.Printf("  %s %s %s\n",
		accentStyle.Render("▸"),
		titleStyle.Render(dataset),
		mutedStyle.Render(fmt.Sprintf("(%s rows)", FormatNumber(rowCount))))
	fmt.Println()

	nameWidth := len("COLUMN")
	for _, c := range cols {
		if len(c.Name) > nameWidth {
			nameWidth = len(c.Name)
		}
	}

	fmt.Printf("  %s  %-10s  %8s  %10s  %8s  %s\n",
		mutedStyle.Render(pad("COLUMN", nameWidth)),
		mutedStyle.Render("TYPE"),
		mutedStyle.Render("NULLS"),
		mutedStyle.Render("DISTINCT"),
		mutedStyle.Render("ENTROPY"),
		mutedStyle.Render("RANGE"))
	for _, c := range cols {
		rng := mutedStyle.Render("-")
		if c.Min != "" || c.Max != "" {
			rng = fmt.Sprintf("%s .. %s", c.Min, c.Max)
		}
		fmt.Printf("  %s  %-10s  %8s  %10s  %8.2f  %s\n",
			titleStyle.Render(pad(c.Name, nameWidth)),
			c.Type,
			FormatNumber(c.NullCount),
			FormatNumber(c.DistinctCount),
			c.Entropy,
			rng)
	}
	fmt.Println()
}

// RuleLine is one line of the quality report.
type RuleLine struct {
	Rule       string
	Column     string
	Severity   string
	Checked    int64
	Violations int64
	Passed     bool
	Samples    []string
}

// PrintQualityReport prints a rule evaluation summary.
func PrintQualityReport(dataset string, rowCount int64, passed bool, lines []RuleLine) {
	fmt.Println()
	verdict := successStyle.Render("✓ PASSED")
	if !passed {
		verdict = failureStyle.Render("✗ FAILED")
	}
	fmt.Printf("  %s  %s %s\n", verdict, titleStyle.Render(dataset),
		mutedStyle.Render(fmt.Sprintf("(%s rows)", FormatNumber(rowCount))))
	fmt.Println()

	for _, l := range lines {
		mark := successStyle.Render("✓")
		if !l.Passed {
			mark = failureStyle.Render("✗")
		}
		fmt.Printf("  %s %s(%s) %s\n", mark,
			titleStyle.Render(l.Rule), l.Column,
			mutedStyle.Render(fmt.Sprintf("[%s] %s/%s violations",
				l.Severity, FormatNumber(l.Violations), FormatNumber(l.Checked))))
		for _, s := range l.Samples {
			fmt.Printf("      %s\n", mutedStyle.Render(s))
		}
	}
	fmt.Println()
}

// PrintError prints a failure line.
func PrintError(msg string) {
	fmt.Println(failureStyle.Render("  ✗ " + msg))
}

// PrintSuccess prints a success line.
func PrintSuccess(msg string) {
	fmt.Println(successStyle.Render("  ✓ " + msg))
}

// PrintInfo prints a muted informational line.
func PrintInfo(msg string) {
	fmt.Println(mutedStyle.Render("  " + msg))
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatNumber renders a count with K/M suffixes past a thousand.
func FormatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatDuration renders a duration at a human scale.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// ShowProgress creates a progress bar for long imports.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Spinner shows a loading indicator until done is closed.
func Spinner(message string, done chan bool) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0
	for {
		select {
		case <-done:
			fmt.Printf("\r%s %s\n", successStyle.Render("✓"), message)
			return
		default:
			fmt.Printf("\r%s %s", accentStyle.Render(frames[i]), message)
			i = (i + 1) % len(frames)
			time.Sleep(80 * time.Millisecond)
		}
	}
}

// ClearLine clears the current terminal line.
func ClearLine() {
	fmt.Print("\r\033[K")
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
