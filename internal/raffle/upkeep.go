package raffle

import (
	"context"
	"time"
)

// UpkeepStatus is the evaluated upkeep predicate with each sub-condition.
type UpkeepStatus struct {
	IsOpen          bool `json:"is_open"`
	IntervalElapsed bool `json:"interval_elapsed"`
	HasPlayers      bool `json:"has_players"`
	HasBalance      bool `json:"has_balance"`

	State        State         `json:"state"`
	Elapsed      time.Duration `json:"elapsed"`
	Participants int           `json:"participants"`
	PoolBalance  int64         `json:"pool_balance"`
}

// Needed reports whether a new round may be triggered.
func (s UpkeepStatus) Needed() bool {
	return s.IsOpen && s.IntervalElapsed && s.HasPlayers && s.HasBalance
}

// UpkeepStatus evaluates the predicate without mutating state.
func (r *Raffle) UpkeepStatus() UpkeepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upkeepStatusLocked()
}

// CheckUpkeep is polled by the automation keeper. checkData is returned unchanged
// as performData.
func (r *Raffle) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error) {
	status := r.UpkeepStatus()
	r.metrics.RecordUpkeepCheck(status.Needed())
	return status.Needed(), checkData, nil
}

func (r *Raffle) upkeepStatusLocked() UpkeepStatus {
	elapsed := r.now().Sub(r.lastTimestamp)
	return UpkeepStatus{
		IsOpen:          r.state == StateOpen,
		IntervalElapsed: elapsed >= r.cfg.Interval,
		HasPlayers:      r.ledger.Count() > 0,
		HasBalance:      r.ledger.Balance() > 0,
		State:           r.state,
		Elapsed:         elapsed,
		Participants:    r.ledger.Count(),
		PoolBalance:     r.ledger.Balance(),
	}
}
