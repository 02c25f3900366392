package utils

import (
	"time"

	"github.com/beevik/ntp"
)

// MaxClockOffset is the skew above which session timestamps are considered unreliable.
const MaxClockOffset = 2 * time.Second

// CheckClock queries server and returns the local clock offset. Boards without
// a battery-backed RTC often boot with a stale clock, which would produce
// misleading session ids.
func CheckClock(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err = resp.Validate(); err != nil {
		return 0, err
	}
	offset := resp.ClockOffset
	if offset.Abs() > MaxClockOffset {
		logger.Warnf("system clock is off by %s according to %s, session ids may be wrong", offset, server)
	} else {
		logger.Debugf("system clock offset %s (%s)", offset, server)
	}

	return offset, nil
}
