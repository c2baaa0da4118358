package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// errNoInput is returned when stdin closes before a required answer.
var errNoInput = errors.New("no input provided")

// Prompter asks the user for login details. Commands receive it through the
// CLIContext; the auth and servicenow packages never prompt.
type Prompter interface {
	// Ask reads a line. An empty answer returns def.
	Ask(label, def string) (string, error)
	// Secret reads a line without echo when stdin is a terminal. An empty
	// answer returns def.
	Secret(label, def string) (string, error)
}

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// termPrompter reads from stdin and writes prompts to stderr, so stdout stays
// clean for command output.
type termPrompter struct {
	in     *bufio.Reader
	fd     uintptr
	isTerm bool
	out    io.Writer
}

func newTermPrompter(in *os.File, out io.Writer) *termPrompter {
	fd := in.Fd()

	return &termPrompter{
		in:     bufio.NewReader(in),
		fd:     fd,
		isTerm: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		out:    out,
	}
}

func (p *termPrompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	line, err := p.readLine()
	if err != nil {
		return "", err
	}

	return orDefault(line, def, label)
}

func (p *termPrompter) Secret(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [press Enter to keep the configured value]: ", label)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	if !p.isTerm {
		line, err := p.readLine()
		if err != nil {
			return "", err
		}

		return orDefault(line, def, label)
	}

	raw, err := readPassword(int(p.fd))
	fmt.Fprintln(p.out)

	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}

	return orDefault(strings.TrimSpace(string(raw)), def, label)
}

// readLine returns one trimmed line. EOF after partial input returns the
// partial line.
func (p *termPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return strings.TrimSpace(line), nil
		}

		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func orDefault(answer, def, label string) (string, error) {
	if answer != "" {
		return answer, nil
	}

	if def != "" {
		return def, nil
	}

	return "", fmt.Errorf("%s: %w", strings.ToLower(label), errNoInput)
}
