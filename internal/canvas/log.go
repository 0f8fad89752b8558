package canvas

import (
	"fmt"

	"github.com/gosuda/inkboard/internal/domain"
)

// EventLog is the in-memory tail of a board's append-only log. It keeps the
// last retain events for catch-up; older history lives in the repository.
// EventLog is not safe for concurrent use; Store guards it.
type EventLog struct {
	events  []*domain.BoardEvent
	lastSeq int64
	retain  int
}

// NewEventLog restores a log whose last committed sequence is lastSeq. tail
// holds the most recent events in ascending order and may be shorter than
// retain.
func NewEventLog(retain int, lastSeq int64, tail []*domain.BoardEvent) *EventLog {
	if retain < 1 {
		retain = 1
	}
	l := &EventLog{lastSeq: lastSeq, retain: retain}
	for _, ev := range tail {
		if ev.Seq <= lastSeq {
			l.events = append(l.events, ev)
		}
	}
	l.trim()
	return l
}

// LastSeq is the sequence of the newest committed event, 0 for an empty board.
func (l *EventLog) LastSeq() int64 { return l.lastSeq }

// Append adds the next event. Sequences must be contiguous and ephemeral
// event types are refused.
func (l *EventLog) Append(ev *domain.BoardEvent) error {
	if ev.Type.IsEphemeral() {
		return fmt.Errorf("canvas.EventLog.Append: %s: %w", ev.Type, domain.ErrEphemeralInLog)
	}
	if ev.Seq != l.lastSeq+1 {
		return fmt.Errorf("canvas.EventLog.Append: seq %d after %d: %w", ev.Seq, l.lastSeq, domain.ErrInvalidMutation)
	}
	l.events = append(l.events, ev)
	l.lastSeq = ev.Seq
	l.trim()
	return nil
}

// Since returns every event with a sequence greater than seq. ok is false when
// the retained tail no longer reaches back to seq+1 or seq is in the future.
func (l *EventLog) Since(seq int64) (events []*domain.BoardEvent, ok bool) {
	if seq > l.lastSeq || seq < 0 {
		return nil, false
	}
	if seq == l.lastSeq {
		return nil, true
	}
	if len(l.events) == 0 || l.events[0].Seq > seq+1 {
		return nil, false
	}
	start := int(seq + 1 - l.events[0].Seq)
	out := make([]*domain.BoardEvent, len(l.events)-start)
	copy(out, l.events[start:])
	return out, true
}

func (l *EventLog) trim() {
	if over := len(l.events) - l.retain; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
}
