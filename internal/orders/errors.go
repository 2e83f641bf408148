package orders

import (
	"errors"
	"fmt"
)

var (
	ErrPlacementInFlight = errors.New("placement already in flight for this symbol")
	ErrQuantityTooSmall  = errors.New("quantity below minimum lot step")
)

// Phase is how far a placement got before it stopped.
type Phase string

const (
	PhaseCreated             Phase = "created"
	PhaseLeverageSet         Phase = "leverage_set"
	PhaseEntrySubmitted      Phase = "entry_submitted"
	PhaseEntryFilled         Phase = "entry_filled"
	PhaseTakeProfitSubmitted Phase = "take_profit_submitted"
	PhaseCompleted           Phase = "completed"
)

type Reason string

const (
	ReasonLeverageRejected   Reason = "leverage_rejected"
	ReasonEntryRejected      Reason = "entry_rejected"
	ReasonFillTimeout        Reason = "fill_timeout"
	ReasonTakeProfitRejected Reason = "take_profit_rejected"
)

// PlacementError reports exactly where a placement died. Unprotected means
// an entry order may have opened a position that now has no take-profit;
// callers must surface that to the user, not swallow it.
type PlacementError struct {
	Phase        Phase
	Reason       Reason
	EntryOrderID int64
	Unprotected  bool
	Err          error
}

func (e *PlacementError) Error() string {
	if e.EntryOrderID != 0 {
		return fmt.Sprintf("placement failed at %s (%s, entry order %d): %v", e.Phase, e.Reason, e.EntryOrderID, e.Err)
	}
	return fmt.Sprintf("placement failed at %s (%s): %v", e.Phase, e.Reason, e.Err)
}

func (e *PlacementError) Unwrap() error { return e.Err }
