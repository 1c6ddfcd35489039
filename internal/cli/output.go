package cli

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Terminal color codes.
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
)

// Colorize wraps text in color when w is a terminal.
func Colorize(w io.Writer, text, color string) string {
	if !isTerminal(w) {
		return text
	}
	return color + text + ColorReset
}

// Success prints a check-marked status line.
func Success(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", Colorize(w, "✓", ColorGreen), message)
}

// Warning prints a warning status line.
func Warning(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", Colorize(w, "⚠", ColorYellow), message)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
