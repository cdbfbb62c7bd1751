// Package arrastime implements a normalized (seconds, microseconds) time and
// interval representation, grounded on arras4_message_api's ArrasTime.
package arrastime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const million = 1_000_000

// Time represents either an absolute instant since the Unix epoch or a
// signed interval, always normalized so that for positive values
// 0 <= Microseconds < 1e6, and for negative values -1e6 < Microseconds <= 0.
type Time struct {
	Seconds      int32
	Microseconds int32
}

// Zero is the canonical zero value.
var Zero = Time{}

// New builds a normalized Time from raw seconds/microseconds.
func New(seconds, microseconds int32) Time {
	t := Time{Seconds: seconds, Microseconds: microseconds}
	return t.Normalize()
}

// Now returns the current wall-clock time.
func Now() Time {
	n := time.Now()
	return New(int32(n.Unix()), int32(n.Nanosecond()/1000))
}

// ToMicroseconds collapses the pair into a single signed microsecond count.
func (t Time) ToMicroseconds() int64 {
	return int64(t.Seconds)*million + int64(t.Microseconds)
}

// FromMicroseconds rebuilds a Time from a single signed microsecond count.
func FromMicroseconds(us int64) Time {
	return Time{
		Seconds:      int32(us / million),
		Microseconds: int32(us % million), // negative for negative times
	}
}

// Normalize returns t with Microseconds folded back into [0,1e6) or
// (-1e6,0], carrying the overflow into Seconds. Idempotent.
func (t Time) Normalize() Time {
	return FromMicroseconds(t.ToMicroseconds())
}

// Add returns t+u, normalized.
func (t Time) Add(u Time) Time {
	return FromMicroseconds(t.ToMicroseconds() + u.ToMicroseconds())
}

// Sub returns t-u, normalized.
func (t Time) Sub(u Time) Time {
	return FromMicroseconds(t.ToMicroseconds() - u.ToMicroseconds())
}

// IsZero reports whether t is exactly the zero value.
func (t Time) IsZero() bool {
	return t.Seconds == 0 && t.Microseconds == 0
}

// Before reports whether t represents an earlier instant/smaller interval
// than u.
func (t Time) Before(u Time) bool {
	return t.ToMicroseconds() < u.ToMicroseconds()
}

// AsTime converts an absolute ArrasTime to the standard library's Time, in
// the local zone, matching dateTimeStr/timeOfDayStr/filenameStr's use of
// localtime.
func (t Time) AsTime() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.Microseconds)*1000)
}

// DateTimeStr renders "dd/mm/yyyy hh:mm:ss,mmm" in local time, for an
// absolute ArrasTime.
func (t Time) DateTimeStr() string {
	return fmt.Sprintf("%s,%03d", t.AsTime().Format("02/01/2006 15:04:05"), t.Microseconds/1000)
}

// TimeOfDayStr renders "hh:mm:ss,mmm" in local time.
func (t Time) TimeOfDayStr() string {
	return fmt.Sprintf("%s,%03d", t.AsTime().Format("15:04:05"), t.Microseconds/1000)
}

// IntervalStr renders a signed interval as "[-]h:mm:ss,mmm".
func (t Time) IntervalStr() string {
	sec := t.Seconds
	if sec < 0 {
		sec = -sec
	}
	ms := t.Microseconds
	if ms < 0 {
		ms = -ms
	}
	ms /= 1000
	min := sec / 60
	sign := ""
	if t.Seconds < 0 || t.Microseconds < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%d:%02d:%02d,%03d", sign, min/60, min%60, sec%60, ms)
}

// filenameLayout is the date-time part of the filename form. FilenameStr
// appends a comma and 6-digit zero-padded microseconds after it, and
// FromFilename splits at that comma, so that round-tripping through
// FromFilename recovers the original value.
const filenameLayout = "2006-01-02_15:04:05"

// FilenameStr renders a timestamp suitable for embedding in a filename:
// "yyyy-mm-dd_hh:mm:ss,uuuuuu" in local time.
func (t Time) FilenameStr() string {
	return fmt.Sprintf("%s,%06d", t.AsTime().Format(filenameLayout), t.Microseconds)
}

// FromFilename parses the format produced by FilenameStr. Only meaningful
// for positive (absolute) times.
func FromFilename(s string) (Time, error) {
	idx := strings.LastIndexByte(s, ',')
	if idx < 0 {
		return Time{}, fmt.Errorf("arrastime: %q has no microsecond suffix", s)
	}
	datePart, usPart := s[:idx], s[idx+1:]
	loc, err := time.ParseInLocation(filenameLayout, datePart, time.Local)
	if err != nil {
		return Time{}, fmt.Errorf("arrastime: parsing %q: %w", s, err)
	}
	us, err := strconv.ParseInt(usPart, 10, 32)
	if err != nil {
		return Time{}, fmt.Errorf("arrastime: parsing microseconds %q: %w", usPart, err)
	}
	return New(int32(loc.Unix()), int32(us)), nil
}
