package scheduler

import (
	"time"

	"frameforge/internal/clock"
)

// finishFrame applies the scheduler's pacing policy: sleep for whatever is
// left of the target frame length after folding in the signed carry left
// over from the previous frame, then recompute carry as target minus elapsed
// minus how long the sleep actually took; the previous carry does not enter
// the new one. An overrun (elapsed
// already exceeds target+carry) is not treated as an error — it becomes
// negative carry that future frames repay by sleeping less, and is reported
// via a metric. Carry is clamped to cfg.MaxCarryUs so one catastrophic frame
// cannot compound indefinitely.
func (s *FrameScheduler) finishFrame(clk clock.Clock, elapsed time.Duration) {
	s.mu.Lock()
	target := time.Duration(s.cfg.FrameLengthUs) * time.Microsecond
	carry := time.Duration(s.carryUs) * time.Microsecond
	maxCarry := time.Duration(s.cfg.MaxCarryUs) * time.Microsecond
	s.mu.Unlock()

	owed := target - elapsed + carry
	sleepFor := owed
	if sleepFor < 0 {
		sleepFor = 0
	}

	s.pauseRemainingUs.Store(sleepFor.Microseconds())
	sleepStart := clk.Now()
	if sleepFor > 0 {
		clk.Sleep(sleepFor)
	}
	actuallySlept := clk.Now().Sub(sleepStart)
	s.pauseRemainingUs.Store(0)

	newCarry := (target - elapsed) - actuallySlept
	if newCarry > maxCarry {
		newCarry = maxCarry
	}
	if newCarry < -maxCarry {
		newCarry = -maxCarry
	}

	s.metrics.FrameDurationUs.Observe(float64(elapsed.Microseconds()))
	if elapsed > target {
		s.metrics.FrameOverrunTotal.Inc()
	}
	s.metrics.CarryUs.Set(float64(newCarry.Microseconds()))

	s.mu.Lock()
	s.carryUs = newCarry.Microseconds()
	s.frameInFlight = false
	s.mu.Unlock()
}
