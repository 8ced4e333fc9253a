package domain

import (
	"fmt"
	"slices"
)

// Status is a project's position in its lifecycle.
type Status string

// Project statuses. The first four are set by upstream approval flows and are
// never targets of a status transition.
const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusCancelled       Status = "cancelled"

	StatusPlanning      Status = "planning"
	StatusWorkersShared Status = "workers_shared"
	StatusOngoing       Status = "ongoing"
	StatusOnHold        Status = "on_hold"
	StatusCompleted     Status = "completed"
	StatusShortClosed   Status = "short_closed"
	StatusTerminated    Status = "terminated"
)

// AllStatuses returns every recognized project status.
func AllStatuses() []Status {
	return []Status{
		StatusDraft,
		StatusPendingApproval,
		StatusApproved,
		StatusPlanning,
		StatusWorkersShared,
		StatusOngoing,
		StatusOnHold,
		StatusCompleted,
		StatusShortClosed,
		StatusTerminated,
		StatusCancelled,
	}
}

// IsValid reports whether s is a recognized status.
func (s Status) IsValid() bool {
	return slices.Contains(AllStatuses(), s)
}

// IsClosed reports whether the project can no longer be short-closed or
// terminated. Cancelled is owned by the approval flow and can still be
// closed out.
func (s Status) IsClosed() bool {
	switch s {
	case StatusCompleted, StatusTerminated, StatusShortClosed:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid project status %q", raw)
	}
	return s, nil
}

// Stage is a worker profile's position in its employment lifecycle.
type Stage string

// Profile stages.
const (
	StageNewRegistration Stage = "new_registration"
	StageScreening       Stage = "screening"
	StageApproved        Stage = "approved"
	StageRejected        Stage = "rejected"
	StageTraining        Stage = "training"
	StageTrained         Stage = "trained"
	StageWorker          Stage = "worker"
	StageMatched         Stage = "matched"
	StageAllocated       Stage = "allocated"
	StageOnboarded       Stage = "onboarded"
	StageDeployed        Stage = "deployed"
	StageOnHold          Stage = "on_hold"
	StageBenched         Stage = "benched"
)

// AllStages returns every recognized profile stage.
func AllStages() []Stage {
	return []Stage{
		StageNewRegistration,
		StageScreening,
		StageApproved,
		StageRejected,
		StageTraining,
		StageTrained,
		StageWorker,
		StageMatched,
		StageAllocated,
		StageOnboarded,
		StageDeployed,
		StageOnHold,
		StageBenched,
	}
}

// IsValid reports whether s is a recognized stage.
func (s Stage) IsValid() bool {
	return slices.Contains(AllStages(), s)
}

func (s Stage) String() string { return string(s) }

// ParseStage validates a raw stage string.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid profile stage %q", raw)
	}
	return s, nil
}

// HoldReason names the party a hold is attributable to.
type HoldReason string

// Hold reasons.
const (
	HoldEmployer     HoldReason = "employer"
	HoldBuildsewa    HoldReason = "buildsewa"
	HoldForceMajeure HoldReason = "force_majeure"
)

// AllHoldReasons returns every accepted hold reason.
func AllHoldReasons() []HoldReason {
	return []HoldReason{HoldEmployer, HoldBuildsewa, HoldForceMajeure}
}

// IsValid reports whether r is an accepted hold reason.
func (r HoldReason) IsValid() bool {
	return slices.Contains(AllHoldReasons(), r)
}

// StandsDownWorkers reports whether deployed workers go on hold with the
// project. Employer-side holds keep workers deployed.
func (r HoldReason) StandsDownWorkers() bool {
	switch r {
	case HoldBuildsewa, HoldForceMajeure:
		return true
	default:
		return false
	}
}

// Transition is one of the project status operations.
type Transition string

// Transitions.
const (
	TransitionStart      Transition = "start"
	TransitionHold       Transition = "hold"
	TransitionResume     Transition = "resume"
	TransitionComplete   Transition = "complete"
	TransitionShortClose Transition = "short_close"
	TransitionTerminate  Transition = "terminate"
)

// AllTransitions returns every transition.
func AllTransitions() []Transition {
	return []Transition{
		TransitionStart,
		TransitionHold,
		TransitionResume,
		TransitionComplete,
		TransitionShortClose,
		TransitionTerminate,
	}
}

// Target is the status a successful transition lands on.
func (t Transition) Target() Status {
	switch t {
	case TransitionStart, TransitionResume:
		return StatusOngoing
	case TransitionHold:
		return StatusOnHold
	case TransitionComplete:
		return StatusCompleted
	case TransitionShortClose:
		return StatusShortClosed
	case TransitionTerminate:
		return StatusTerminated
	}
	panic(fmt.Sprintf("domain: unknown transition %q", string(t)))
}

// Sources lists the statuses a transition may start from.
func (t Transition) Sources() []Status {
	switch t {
	case TransitionStart:
		return []Status{StatusPlanning, StatusWorkersShared}
	case TransitionHold:
		return []Status{StatusOngoing}
	case TransitionResume:
		return []Status{StatusOnHold}
	case TransitionComplete:
		return []Status{StatusOngoing, StatusOnHold}
	case TransitionShortClose, TransitionTerminate:
		var out []Status
		for _, s := range AllStatuses() {
			if !s.IsClosed() {
				out = append(out, s)
			}
		}
		return out
	}
	panic(fmt.Sprintf("domain: unknown transition %q", string(t)))
}

// Permits reports whether the transition may run from the given status.
func (t Transition) Permits(from Status) bool {
	return slices.Contains(t.Sources(), from)
}

// Event is the human phrase used in generated ledger notes.
func (t Transition) Event() string {
	switch t {
	case TransitionStart:
		return "started"
	case TransitionHold:
		return "put on hold"
	case TransitionResume:
		return "resumed from hold"
	case TransitionComplete:
		return "completed"
	case TransitionShortClose:
		return "short closed"
	case TransitionTerminate:
		return "terminated"
	}
	panic(fmt.Sprintf("domain: unknown transition %q", string(t)))
}

func (t Transition) String() string { return string(t) }
