package config

import (
	"fmt"
	"strconv"
	"strings"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ParseResolution parses "WxH", e.g. "1920x1080".
func ParseResolution(v string) (Resolution, error) {
	if v == "" {
		return Resolution{}, ErrResolution
	}
	w, h, ok := strings.Cut(strings.ToLower(v), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("%w: got %q", ErrResolution, v)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("%w: bad width %q", ErrResolution, w)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("%w: bad height %q", ErrResolution, h)
	}

	return Resolution{Width: width, Height: height}, nil
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}
