// Package console prompts the operator for session parameters on a text
// terminal.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/audiolibrelab/isdrec/internal/isd"
)

// ErrQuit is returned when the operator ends input.
var ErrQuit = errors.New("input closed")

// Console reads prompted lines from the operator. On a real terminal it
// uses line editing in raw mode; otherwise it reads plain lines.
type Console struct {
	t   *term.Terminal
	in  *bufio.Reader
	out io.Writer

	restore func() error
}

// NewTerminal returns a console with line editing over rw. Lines end with a
// carriage return.
func NewTerminal(rw io.ReadWriter) *Console {
	t := term.NewTerminal(rw, "")
	return &Console{t: t, out: t}
}

// NewPlain returns a console reading newline-terminated lines from r.
func NewPlain(r io.Reader, w io.Writer) *Console {
	return &Console{in: bufio.NewReader(r), out: w}
}

// Open returns a console on stdin/stdout. When stdin is a terminal it is
// put in raw mode until Close.
func Open() (*Console, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return NewPlain(os.Stdin, os.Stdout), nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to set raw mode: %w", err)
	}
	c := NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout})
	c.restore = func() error { return term.Restore(fd, old) }
	return c, nil
}

// Close restores the terminal mode.
func (c *Console) Close() error {
	if c.restore == nil {
		return nil
	}
	restore := c.restore
	c.restore = nil
	return restore()
}

// Printf writes to the operator.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Println writes a line to the operator.
func (c *Console) Println(s string) {
	fmt.Fprintln(c.out, s)
}

func (c *Console) readLine(prompt string) (string, error) {
	var line string
	var err error
	if c.t != nil {
		c.t.SetPrompt(prompt)
		line, err = c.t.ReadLine()
	} else {
		fmt.Fprint(c.out, prompt)
		line, err = c.in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
	}
	if errors.Is(err, io.EOF) {
		return "", ErrQuit
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question until it gets one.
func (c *Console) Confirm(prompt string) (bool, error) {
	for {
		line, err := c.readLine(prompt)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(line) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// StartAddress asks for a hexadecimal row address inside geo.
func (c *Console) StartAddress(geo isd.Geometry) (uint16, error) {
	for {
		line, err := c.readLine("Start address: 0x")
		if err != nil {
			return 0, err
		}
		addr, ok := ParseAddress(line, geo)
		if ok {
			return addr, nil
		}
		c.Println("Invalid memory pointer!")
	}
}

// Duration asks for a recording length in milliseconds, up to max.
func (c *Console) Duration(max time.Duration) (time.Duration, error) {
	for {
		line, err := c.readLine("Duration of audio (in milliseconds): ")
		if err != nil {
			return 0, err
		}
		d, ok := ParseDuration(line, max)
		if ok {
			return d, nil
		}
		c.Println("Invalid duration!")
	}
}

// Volume asks for a playback volume. ok is false when the operator chose to
// quit playback.
func (c *Console) Volume() (volume uint8, ok bool, err error) {
	line, err := c.readLine("Playback volume (7 to 0, other to quit): ")
	if err != nil {
		return 0, false, err
	}
	volume, ok = ParseVolume(line)
	return volume, ok, nil
}

// ParseAddress parses a hex row address, with or without a 0x prefix.
func ParseAddress(s string, geo isd.Geometry) (uint16, bool) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" || len(s) > 4 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil || !geo.Valid(uint16(v)) {
		return 0, false
	}
	return uint16(v), true
}

// ParseDuration parses a decimal millisecond count of at most five digits.
func ParseDuration(s string, max time.Duration) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 5 {
		return 0, false
	}
	ms, err := strconv.ParseUint(s, 10, 32)
	if err != nil || ms == 0 {
		return 0, false
	}
	d := time.Duration(ms) * time.Millisecond
	if max > 0 && d > max {
		return 0, false
	}
	return d, true
}

// ParseVolume accepts a single digit from 0 (loudest) to 7 (quietest).
func ParseVolume(s string) (uint8, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 1 || s[0] < '0' || s[0] > '0'+isd.MinVolume {
		return 0, false
	}
	return s[0] - '0', true
}
