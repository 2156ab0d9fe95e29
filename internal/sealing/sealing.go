// Package sealing governs the mutable-draft to sealed-immutable transition of
// an evidence-collection phase. Sealed-ness is derived purely from the
// presence of a completion timestamp; there is no separate flag to drift out
// of sync with it.
package sealing

import (
	"errors"
	"time"
)

type Phase string

const (
	PhaseCheckin  Phase = "checkin"
	PhaseHandover Phase = "handover"
)

var (
	ErrUnknownPhase    = errors.New("unknown phase")
	ErrNoRoomPhotos    = errors.New("at least one room photo is required")
	ErrKeysNotReturned = errors.New("keys must be confirmed returned")
	ErrSealed          = errors.New("phase is sealed")
)

// ParsePhase validates a phase name from a URL segment.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseCheckin, PhaseHandover:
		return Phase(s), nil
	}
	return "", ErrUnknownPhase
}

// State is a tagged variant: Draft, or Sealed with the timestamp that was
// stamped at lock time. The zero value is Draft. A sealed State always
// carries a timestamp; the constructor makes that a structural guarantee.
type State struct {
	sealedAt *time.Time
}

func Draft() State { return State{} }

func SealedAt(t time.Time) State { return State{sealedAt: &t} }

// FromTimestamp derives State from the persisted nullable column.
func FromTimestamp(ts *time.Time) State {
	if ts == nil {
		return State{}
	}
	t := *ts
	return State{sealedAt: &t}
}

func (s State) Sealed() bool { return s.sealedAt != nil }

// At returns the seal timestamp, ok=false for Draft.
func (s State) At() (time.Time, bool) {
	if s.sealedAt == nil {
		return time.Time{}, false
	}
	return *s.sealedAt, true
}

// Evidence is the completeness snapshot a phase is judged against.
type Evidence struct {
	RoomPhotos   int
	KeysReturned bool
}

// ReadyToSeal reports whether the phase's completeness predicate holds.
// Check-in needs at least one room photo; handover additionally needs the
// keys-returned confirmation.
func (p Phase) ReadyToSeal(ev Evidence) error {
	switch p {
	case PhaseCheckin:
		if ev.RoomPhotos < 1 {
			return ErrNoRoomPhotos
		}
		return nil
	case PhaseHandover:
		if ev.RoomPhotos < 1 {
			return ErrNoRoomPhotos
		}
		if !ev.KeysReturned {
			return ErrKeysNotReturned
		}
		return nil
	}
	return ErrUnknownPhase
}

// Lock applies the draft-to-sealed transition. First write wins: locking an
// already sealed state returns it unchanged with changed=false, so a repeated
// lock request never moves the timestamp. The completeness predicate is only
// consulted on the first lock.
func Lock(p Phase, s State, ev Evidence, now time.Time) (State, bool, error) {
	if s.Sealed() {
		return s, false, nil
	}
	if err := p.ReadyToSeal(ev); err != nil {
		return s, false, err
	}
	return SealedAt(now.UTC()), true, nil
}

// CanMutate reports whether evidence under this state may still be written.
// A sealed phase only accepts writes when the caller has acknowledged the
// edit override; the seal timestamp itself is never cleared by that.
func CanMutate(s State, overrideAcknowledged bool) error {
	if s.Sealed() && !overrideAcknowledged {
		return ErrSealed
	}
	return nil
}
