package registration

import "fmt"

// Stage is the position of a user within the registration flow.
type Stage string

const (
	StageNone               Stage = "none"
	StageWaitingForPassport Stage = "waiting_for_passport"
	StageWaitingForVehicle  Stage = "waiting_for_vehicle"
	StageWaitingForReview   Stage = "waiting_for_review"
	// StageReadyToPay is reserved; no transition produces it.
	StageReadyToPay        Stage = "ready_to_pay"
	StageWaitingForPayment Stage = "waiting_for_payment"
	StageFinished          Stage = "finished"
)

var knownStages = map[Stage]struct{}{
	StageNone:               {},
	StageWaitingForPassport: {},
	StageWaitingForVehicle:  {},
	StageWaitingForReview:   {},
	StageReadyToPay:         {},
	StageWaitingForPayment:  {},
	StageFinished:           {},
}

// ParseStage converts a stored value back into a Stage.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if _, ok := knownStages[s]; !ok {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return s, nil
}

// Event is something that may move a user between stages.
type Event string

const (
	EventFreshStart Event = "fresh_start"
	EventUpload     Event = "upload"
	EventConfirm    Event = "confirm"
	EventRetry      Event = "retry"
	EventCancel     Event = "cancel"
	EventReset      Event = "reset"
)

// InProgress reports whether s is one of the stages where a fresh start is refused.
func (s Stage) InProgress() bool {
	return s == StageWaitingForReview || s == StageWaitingForPayment
}

// ExpectedUpload returns the document kind a user in stage s may upload.
func ExpectedUpload(s Stage) (DocumentKind, bool) {
	switch s {
	case StageNone, StageWaitingForPassport:
		return KindPassport, true
	case StageWaitingForVehicle:
		return KindVehicleRegistration, true
	default:
		return "", false
	}
}

// Transition returns the stage reached when ev happens in stage from.
// kind is only consulted for EventUpload. Unchanged stages are returned
// with a nil error when the event is accepted but has no effect.
func Transition(from Stage, ev Event, kind DocumentKind) (Stage, error) {
	switch ev {
	case EventFreshStart:
		switch {
		case from.InProgress():
			return from, ErrFlowInProgress
		case from == StageFinished:
			return StageWaitingForPassport, nil
		default:
			return from, nil
		}
	case EventUpload:
		expected, ok := ExpectedUpload(from)
		if !ok || expected != kind {
			return from, invalid(from, ev)
		}
		if kind == KindPassport {
			return StageWaitingForVehicle, nil
		}
		return StageWaitingForReview, nil
	case EventConfirm:
		switch from {
		case StageWaitingForReview:
			return StageWaitingForPayment, nil
		case StageWaitingForPayment:
			return StageFinished, nil
		}
	case EventRetry:
		if from == StageWaitingForReview {
			return StageWaitingForPassport, nil
		}
	case EventCancel:
		if from.InProgress() {
			return from, ErrFlowInProgress
		}
		return StageNone, nil
	case EventReset:
		if from == StageWaitingForVehicle || from == StageWaitingForReview {
			return StageNone, nil
		}
	}
	return from, invalid(from, ev)
}

func invalid(from Stage, ev Event) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
}
