package agreement

import (
	"time"

	"github.com/taqsit/installment-engine/jalali"
)

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock supplies "now" so payment timestamps and overdue checks are
// controllable in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// TodayJalali is the Jalali date the clock's instant falls on.
func TodayJalali(c Clock) jalali.Date {
	return jalali.FromTime(c.Now())
}
