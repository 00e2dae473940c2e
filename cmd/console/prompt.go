package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

type prompter struct {
	in    *bufio.Reader
	fd    int
	tty   bool
	out   io.Writer
	style styler
}

func newPrompter(in *os.File, out io.Writer) *prompter {
	fd := int(in.Fd())
	return &prompter{
		in:    bufio.NewReader(in),
		fd:    fd,
		tty:   term.IsTerminal(fd),
		out:   out,
		style: newStyler(out),
	}
}

func (p *prompter) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Warnf prints a highlighted line, e.g. a rejected code.
func (p *prompter) Warnf(format string, args ...any) {
	fmt.Fprintln(p.out, p.style.Notice(format, args...))
}

func (p *prompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Secret reads without echo on a terminal. Piped input is read as a line.
func (p *prompter) Secret(prompt string) (string, error) {
	if !p.tty {
		return p.Line(prompt)
	}
	fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
