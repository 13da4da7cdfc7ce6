package conversation

import "time"

const (
	DefaultMinTurnDelay     = 5 * time.Second
	DefaultTargetTurnPeriod = 15 * time.Second
)

// Pacing spaces consecutive turns: a slow reply eats into the target period
// but never below the minimum gap.
type Pacing struct {
	MinTurnDelay     time.Duration
	TargetTurnPeriod time.Duration
}

func DefaultPacing() Pacing {
	return Pacing{
		MinTurnDelay:     DefaultMinTurnDelay,
		TargetTurnPeriod: DefaultTargetTurnPeriod,
	}
}

func (p Pacing) Delay(elapsed time.Duration) time.Duration {
	delay := p.TargetTurnPeriod - elapsed
	if delay < p.MinTurnDelay {
		delay = p.MinTurnDelay
	}
	if delay < 0 {
		return 0
	}
	return delay
}
