package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// clockTime is a time of day in seconds since midnight.
type clockTime int

// parseClock parses "HH:MM" or "HH:MM:SS".
func parseClock(s string) (clockTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		nums[i] = n
	}
	if nums[0] > 23 || nums[1] > 59 || nums[2] > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return clockTime(nums[0]*3600 + nums[1]*60 + nums[2]), nil
}

func clockOf(t time.Time) clockTime {
	return clockTime(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// inWindow reports whether now falls inside [start, end]. A window with
// start > end crosses midnight, so membership is now >= start OR now <= end.
func inWindow(now, start, end clockTime) bool {
	if start > end {
		return now >= start || now <= end
	}
	return now >= start && now <= end
}

// checkTimeCondition evaluates one quiet-hours condition at the given
// moment. A nil error means the condition permits execution.
func checkTimeCondition(cond TimeCondition, now time.Time) error {
	start, err := parseClock(cond.Start)
	if err != nil {
		return fmt.Errorf("time condition: %w", err)
	}
	end, err := parseClock(cond.End)
	if err != nil {
		return fmt.Errorf("time condition: %w", err)
	}

	inside := inWindow(clockOf(now), start, end)
	switch cond.Kind {
	case TimeNotInRange:
		if inside {
			return fmt.Errorf("blocked by quiet hours %s-%s", cond.Start, cond.End)
		}
	case TimeInRange:
		if !inside {
			return fmt.Errorf("outside allowed window %s-%s", cond.Start, cond.End)
		}
	default:
		return fmt.Errorf("unknown time condition kind %q", cond.Kind)
	}
	return nil
}
