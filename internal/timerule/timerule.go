// Package timerule implements the clock parsing and respawn arithmetic for
// boss records. All functions are pure and operate on wall-clock local time
// with second resolution.
package timerule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime marks any malformed clock or cycle input. Callers match it
// with errors.Is to reject the input without mutating state.
var ErrInvalidTime = errors.New("invalid time")

// Clock is a time of day. HasSecond records whether the second was given
// explicitly or should be taken from the ambient wall clock.
type Clock struct {
	Hour      int
	Minute    int
	Second    int
	HasSecond bool
}

// ParseClock parses an operator-supplied time of day.
//
// Accepted forms:
//   - "H:M" and "H:M:S" (colon-separated)
//   - compact digit strings of length 3 or 4: "905" -> 9:05, "1251" -> 12:51
//
// Out-of-range components are normalized (hour mod 24, minute/second mod 60)
// rather than rejected; operators habitually type things like "24:05".
func ParseClock(text string) (Clock, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Clock{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, text)
		}
		nums := make([]int, len(parts))
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 {
				return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, text)
			}
			nums[i] = n
		}
		c := Clock{Hour: nums[0] % 24, Minute: nums[1] % 60}
		if len(nums) == 3 {
			c.Second = nums[2] % 60
			c.HasSecond = true
		}
		return c, nil
	}

	// compact form: minutes are always the last two digits
	if len(s) != 3 && len(s) != 4 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, text)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, text)
	}
	return Clock{Hour: (n / 100) % 24, Minute: (n % 100) % 60}, nil
}

// ParseCycle parses a cycle rule of the form "HH:MM:SS" into a duration.
func ParseCycle(text string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: cycle %q", ErrInvalidTime, text)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: cycle %q", ErrInvalidTime, text)
		}
		nums[i] = n
	}
	d := time.Duration(nums[0])*time.Hour +
		time.Duration(nums[1])*time.Minute +
		time.Duration(nums[2])*time.Second
	return d, nil
}

// Compose anchors a parsed clock on now's calendar day. When the clock has no
// explicit second, now's second is carried over; operators report hour:minute
// and the ambient second is accepted as noise.
func Compose(now time.Time, c Clock) time.Time {
	sec := now.Second()
	if c.HasSecond {
		sec = c.Second
	}
	return time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, sec, 0, now.Location())
}

// NextCycle returns the next respawn for a cycle rule.
func NextCycle(last time.Time, cycle time.Duration) time.Time {
	return last.Add(cycle)
}

// NextFixed returns the earliest configured time of day strictly after last,
// wrapping to the following day when every slot has already passed.
func NextFixed(last time.Time, clocks []Clock) (time.Time, error) {
	if len(clocks) == 0 {
		return time.Time{}, fmt.Errorf("%w: no fixed times", ErrInvalidTime)
	}
	cands := make([]time.Time, 0, len(clocks))
	for _, c := range clocks {
		t := time.Date(last.Year(), last.Month(), last.Day(), c.Hour, c.Minute, c.Second, 0, last.Location())
		cands = append(cands, t)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].Before(cands[j]) })
	for _, t := range cands {
		if t.After(last) {
			return t, nil
		}
	}
	return cands[0].AddDate(0, 0, 1), nil
}

// ParseFixedClocks parses a list of "HH:MM:SS" slots as stored on a record.
func ParseFixedClocks(texts []string) ([]Clock, error) {
	out := make([]Clock, 0, len(texts))
	for _, t := range texts {
		c, err := ParseClock(t)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FormatCycle renders a duration back into the stored "HH:MM:SS" form.
func FormatCycle(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
