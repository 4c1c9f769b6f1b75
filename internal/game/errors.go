package game

import (
	"errors"
	"fmt"
)

// RejectReason identifies why the validator refused a message.
type RejectReason string

const (
	RejectUnknownType      RejectReason = "unknown_type"
	RejectMissingPlayer    RejectReason = "missing_player"
	RejectDuplicateJoin    RejectReason = "duplicate_join"
	RejectMissingTarget    RejectReason = "missing_target"
	RejectSelfTarget       RejectReason = "self_target"
	RejectSizeAdvantage    RejectReason = "size_advantage"
	RejectOutOfReach       RejectReason = "out_of_reach"
	RejectInvalidNumber    RejectReason = "invalid_number"
	RejectIdentityMismatch RejectReason = "identity_mismatch"
)

// RejectError is returned for every message the validator refuses.
type RejectError struct {
	Reason   RejectReason
	Type     MessageType
	PlayerID string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejected for %q: %s", e.Type, e.PlayerID, e.Reason)
}

// Is matches another RejectError carrying the same reason, so callers can write
// errors.Is(err, &RejectError{Reason: RejectOutOfReach}).
func (e *RejectError) Is(target error) bool {
	var other *RejectError
	if !errors.As(target, &other) {
		return false
	}
	return other.Reason == "" || other.Reason == e.Reason
}

// ReasonOf extracts the rejection reason from err, or "" when err is not a rejection.
func ReasonOf(err error) RejectReason {
	var rejection *RejectError
	if errors.As(err, &rejection) {
		return rejection.Reason
	}
	return ""
}

func reject(reason RejectReason, msgType MessageType, id string) error {
	return &RejectError{Reason: reason, Type: msgType, PlayerID: id}
}
