package main

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// styler colours notices on a terminal and writes plain text otherwise.
type styler struct {
	out *termenv.Output
}

func newStyler(w io.Writer) styler {
	return styler{out: termenv.NewOutput(w)}
}

func (s styler) color(code, format string, args ...any) string {
	return s.out.String(fmt.Sprintf(format, args...)).Foreground(s.out.Color(code)).String()
}

func (s styler) Error(format string, args ...any) string { return s.color("1", format, args...) }
func (s styler) Notice(format string, args ...any) string { return s.color("3", format, args...) }
