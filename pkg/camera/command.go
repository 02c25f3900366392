package camera

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const (
	placeholderOutput = "{output}"
	placeholderWidth  = "{width}"
	placeholderHeight = "{height}"
)

// Command captures through an external still tool such as libcamera-still or
// raspistill. The line is split on whitespace (no quoting) and must contain
// {output}; {width} and {height} are optional, e.g.
//
//	libcamera-still --nopreview -t 1000 --width {width} --height {height} -o {output}
type Command struct {
	path   string
	args   []string
	width  int
	height int

	lock   sync.Mutex
	closed bool
}

func NewCommand(line string, width, height int) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("empty camera command")
	}
	if !strings.Contains(line, placeholderOutput) {
		return nil, fmt.Errorf("camera command %q has no %s placeholder", line, placeholderOutput)
	}
	bin, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("camera command: %w", err)
	}

	return &Command{path: bin, args: fields[1:], width: width, height: height}, nil
}

func (c *Command) Args(output string) []string {
	r := strings.NewReplacer(
		placeholderOutput, output,
		placeholderWidth, strconv.Itoa(c.width),
		placeholderHeight, strconv.Itoa(c.height),
	)
	args := make([]string, 0, len(c.args))
	for _, a := range c.args {
		args = append(args, r.Replace(a))
	}

	return args
}

func (c *Command) Capture(path string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrClosed
	}

	cmd := exec.Command(c.path, c.Args(path)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", cmd, err, strings.TrimSpace(string(output)))
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s produced no file: %w", c.path, err)
	}
	if info.Size() == 0 {
		return ErrEmptyFrame
	}

	return nil
}

func (c *Command) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true

	return nil
}
