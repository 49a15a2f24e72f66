// Package cli provides shared formatting helpers for CLI output.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ANSI color constants.
const (
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Red     = "\033[31m"
	Cyan    = "\033[36m"
	DimCyan = "\033[2;36m"
	Dim     = "\033[2m"
	Bold    = "\033[1m"
	Reset   = "\033[0m"
)

// Box width is the inner content width (between the border characters).
const boxWidth = 44

// Margin is the left indent for all branded output.
const margin = "  "

// ANSI 256-color green gradient, bright to dark, one per logo line.
var greenGradient = []string{
	"\033[38;5;46m", // #00ff00 bright green
	"\033[38;5;46m", // #00f000
	"\033[38;5;40m", // #00d700
	"\033[38;5;40m", // #00c000
	"\033[38;5;34m", // #00af00
	"\033[38;5;28m", // #008700
}

// ShortenHome replaces $HOME prefix with ~.
func ShortenHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

// FormatNumber adds comma separators (1234 -> "1,234").
func FormatNumber(n int) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return FormatNumber(n/1000) + "," + fmt.Sprintf("%03d", n%1000)
}

// FormatDuration renders a duration in short human form ("45s", "2m10s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// Spark returns the confidence glyph and its color: filled for verdicts
// that would stand on their own, hollow for mid band, dim dot for moves
// that only survived the fallback.
func Spark(confidence float64) (glyph, color string) {
	switch {
	case confidence > 0.7:
		return "✦", Cyan
	case confidence >= 0.4:
		return "✧", DimCyan
	default:
		return "·", Dim
	}
}

// Mark returns a colored pass or fail mark for check-style output.
func Mark(ok bool) string {
	if ok {
		return Green + "✓" + Reset
	}
	return Red + "✗" + Reset
}

// WarnMark is the colored mark for non-fatal findings.
func WarnMark() string {
	return Yellow + "!" + Reset
}

// Banner prints the large PARAKEET ASCII art logo with green gradient
// and tagline. Used by `parakeet init`.
func Banner(version string) {
	logo := []string{
		"  ██████╗  █████╗ ██████╗  █████╗ ██╗  ██╗███████╗███████╗████████╗",
		"  ██╔══██╗██╔══██╗██╔══██╗██╔══██╗██║ ██╔╝██╔════╝██╔════╝╚══██╔══╝",
		"  ██████╔╝███████║██████╔╝███████║█████╔╝ █████╗  █████╗     ██║",
		"  ██╔═══╝ ██╔══██║██╔══██╗██╔══██║██╔═██╗ ██╔══╝  ██╔══╝     ██║",
		"  ██║     ██║  ██║██║  ██║██║  ██║██║  ██╗███████╗███████╗   ██║",
		"  ╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝",
	}

	fmt.Println()
	for i, line := range logo {
		color := greenGradient[i%len(greenGradient)]
		fmt.Printf("%s%s%s\n", color, line, Reset)
	}
	fmt.Println()
	fmt.Printf("  %sEvery note lands in the inbox.%s %s%sNone of them stay.%s\n",
		Dim, Reset, Bold, Green, Reset)
	fmt.Println()
	fmt.Printf("  %sPARAKEET%s %s— PARA vault organizer v%s%s\n",
		Bold, Reset, Dim, version, Reset)
}

// Header prints a small heavy-border box with a title. Used by
// `parakeet status` and `parakeet doctor`.
func Header(title string) {
	fmt.Println()
	heavyTop := margin + "┏" + strings.Repeat("━", boxWidth) + "┓"
	heavyBottom := margin + "┗" + strings.Repeat("━", boxWidth) + "┛"

	content := "  " + title
	padded := padRight(content, boxWidth)

	fmt.Printf("%s%s%s\n", Cyan, heavyTop, Reset)
	fmt.Printf("%s%s┃%s┃%s\n", Cyan, margin, padded, Reset)
	fmt.Printf("%s%s%s\n", Cyan, heavyBottom, Reset)
}

// Section prints a section divider line: ── Name ─────────────────
func Section(name string) {
	prefix := "── " + name + " "
	remaining := boxWidth + 2 - runeLen(prefix)
	if remaining < 0 {
		remaining = 0
	}
	rule := prefix + strings.Repeat("─", remaining)
	fmt.Printf("\n%s%s%s%s\n\n", margin, Cyan, rule, Reset)
}

// Box prints a light-border box around content lines.
func Box(lines []string) {
	lightTop := margin + "┌" + strings.Repeat("─", boxWidth) + "┐"
	lightBottom := margin + "└" + strings.Repeat("─", boxWidth) + "┘"

	fmt.Println()
	fmt.Println(lightTop)
	for _, line := range lines {
		content := "  " + line
		padded := padRight(content, boxWidth)
		fmt.Printf("%s│%s│\n", margin, padded)
	}
	fmt.Println(lightBottom)
}

// Footer prints the branded footer in dim text.
func Footer() {
	fmt.Printf("\n%s%sparakeet-labs/parakeet · projects, areas, resources, archive%s\n\n", margin, Dim, Reset)
}

// padRight pads s with spaces to exactly width characters.
// If s is longer than width, it is truncated.
func padRight(s string, width int) string {
	n := runeLen(s)
	if n >= width {
		r := []rune(s)
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-n)
}

// runeLen counts the display width in runes.
func runeLen(s string) int {
	return len([]rune(s))
}
