package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	promptDuration   = "Enter duration of capture in minutes (leaving empty defaults to %s)\n: "
	promptInterval   = "Enter interval per capture in seconds (leaving empty defaults to %s)\n: "
	promptResolution = "Enter resolution as WxH (leaving empty defaults to %s)\n: "
	promptUpload     = "Upload the video to google drive? [y/N]\n: "

	DefaultPromptResolution = "1024x768"
)

// Prompt asks for the run options on out and reads the answers from in.
// Empty or unparsable answers keep the value already in base; resolution
// falls back to DefaultPromptResolution when base has none.
func Prompt(in io.Reader, out io.Writer, base Run) (Run, error) {
	r := bufio.NewReader(in)
	run := base

	answer, err := ask(r, out, fmt.Sprintf(promptDuration, formatMinutes(base.Duration)))
	if err != nil {
		return run, err
	}
	if d, err := parseMinutes(answer); err == nil {
		run.Duration = d
	}

	answer, err = ask(r, out, fmt.Sprintf(promptInterval, formatSeconds(base.Interval)))
	if err != nil {
		return run, err
	}
	if d, err := parseSeconds(answer); err == nil {
		run.Interval = d
	}

	def := DefaultPromptResolution
	if base.Resolution.Width > 0 {
		def = base.Resolution.String()
	}
	answer, err = ask(r, out, fmt.Sprintf(promptResolution, def))
	if err != nil {
		return run, err
	}
	if res, err := ParseResolution(answer); err == nil {
		run.Resolution = res
	} else {
		run.Resolution, _ = ParseResolution(def)
	}

	answer, err = ask(r, out, promptUpload)
	if err != nil {
		return run, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "true":
		run.Upload = true
	case "n", "no", "false":
		run.Upload = false
	}
	// an interactive session can not be restarted without a terminal
	run.Autoloop = false

	return run, nil
}

func ask(r *bufio.Reader, out io.Writer, question string) (string, error) {
	if _, err := io.WriteString(out, question); err != nil {
		return "", err
	}
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}

	return Clean(line), nil
}

func formatMinutes(d time.Duration) string {
	return fmt.Sprintf("%g minutes", d.Minutes())
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%g seconds", d.Seconds())
}
