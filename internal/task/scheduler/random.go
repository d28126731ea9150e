package scheduler

import (
	"fmt"
	"math/rand"
	"time"
)

// ClockTime is a time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

// RandomDailyTimes draws n ascending times of day within [beginHour:00, endHour:00]
// so that consecutive times are between minGap and maxGap apart.
func RandomDailyTimes(rng *rand.Rand, n, beginHour, endHour int, minGap, maxGap time.Duration) ([]ClockTime, error) {
	if n <= 0 {
		return nil, nil
	}
	span := (endHour - beginHour) * 60
	lo, hi := int(minGap/time.Minute), int(maxGap/time.Minute)
	if beginHour < 0 || endHour > 24 || span <= 0 || lo < 0 || hi < lo {
		return nil, fmt.Errorf("invalid random window %d-%d gap %s-%s", beginHour, endHour, minGap, maxGap)
	}
	if (n-1)*lo > span {
		return nil, fmt.Errorf("cannot fit %d runs %s apart into %d-%d", n, minGap, beginHour, endHour)
	}

	out := make([]ClockTime, 0, n)
	// Each draw leaves room for the remaining runs at the minimum gap.
	cur := between(rng, 0, span-(n-1)*lo)
	for i := 0; ; i++ {
		m := beginHour*60 + cur
		out = append(out, ClockTime{Hour: m / 60, Minute: m % 60})
		if i == n-1 {
			return out, nil
		}
		next := min(cur+hi, span-(n-2-i)*lo)
		cur = between(rng, cur+lo, next)
	}
}

func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
