package movement

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/game/room"
	"github.com/cory-johannsen/plaza/internal/game/world"
)

// DefaultStepDuration is the time allotted to walk one path cell.
const DefaultStepDuration = 300 * time.Millisecond

// CompleteFunc is invoked with the room locked after a participant's state
// has been flipped from walking to standing.
type CompleteFunc func(tx *room.Tx, p room.Participant)

// Scheduler arms walk completions. Each participant has at most one pending
// completion; arming a new one cancels the previous.
type Scheduler struct {
	registry *room.Registry
	step     time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler.
//
// Precondition: registry and logger must be non-nil; step must be > 0.
func NewScheduler(registry *room.Registry, step time.Duration, logger *zap.Logger) *Scheduler {
	if step <= 0 {
		step = DefaultStepDuration
	}
	return &Scheduler{registry: registry, step: step, logger: logger}
}

// Duration returns how long a walk over a path of pathLen cells lasts.
func (s *Scheduler) Duration(pathLen int) time.Duration {
	return time.Duration(pathLen) * s.step
}

// Arm schedules the participant's return to standing after the walk over a
// path of pathLen cells. The completion re-enters the room through
// Registry.Exec, so it is ordered with every other operation on the room.
// A completion that has been replaced, cancelled, or finds the participant
// no longer walking does nothing.
//
// Precondition: tx must be the live Tx of the participant's room.
// Postcondition: Any previously pending completion for the participant is cancelled.
func (s *Scheduler) Arm(tx *room.Tx, participantID string, pathLen int, onComplete CompleteFunc) *Completion {
	roomID := tx.RoomID()
	c := &Completion{}
	tx.ReplacePending(participantID, c)
	c.start(s.Duration(pathLen), func() {
		err := s.registry.Exec(roomID, func(tx *room.Tx) error {
			cur, ok := tx.Pending(participantID)
			if !ok || cur != room.Canceler(c) || c.Cancelled() {
				return nil
			}
			tx.ClearPending(participantID, c)

			p, ok := tx.Participant(participantID)
			if !ok || p.State != world.Walking {
				return nil
			}
			if err := tx.UpdateState(participantID, world.Standing); err != nil {
				return err
			}
			p.State = world.Standing
			if onComplete != nil {
				onComplete(tx, p)
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("walk completion failed",
				zap.String("room", roomID),
				zap.String("participant", participantID),
				zap.Error(err),
			)
		}
	})
	return c
}

// Cancel drops the participant's pending completion, if any.
//
// Precondition: tx must be the live Tx of the participant's room.
func (s *Scheduler) Cancel(tx *room.Tx, participantID string) {
	tx.CancelPending(participantID)
}
