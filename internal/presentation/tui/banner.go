package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the foundry banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"   ___                 _          ", "#818cf8"},
		{"  / __\\__  _   _ _ __ | | _ __ _  _", "#a78bfa"},
		{" / _\\/ _ \\| | | | '_ \\| || '__| || |", "#c084fc"},
		{"/ / | (_) | |_| | | | | || |  | || |", "#e879f9"},
		{"\\/   \\___/ \\__,_|_| |_|_||_|   \\_, |", "#f472b6"},
		{"                               |__/ ", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintf(w, "  %s\n\n", termenv.String(version).Faint())
}
