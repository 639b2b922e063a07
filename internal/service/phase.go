package service

import "github.com/conceptmaps/trainsvc/internal/model"

// Phase is the lifecycle state of a Job.
//
//	Inactive -> PreparingData -> Starting -> Running -> Succeeded | Failed
//	PreparingData | Starting -> Failed
//	Starting | Running -> Inactive (cancel)
type Phase int32

const (
	PhaseInactive Phase = iota
	PhasePreparingData
	PhaseStarting
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhasePreparingData:
		return "preparing_data"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a new run must be refused.
func (p Phase) Active() bool {
	return p == PhasePreparingData || p == PhaseStarting || p == PhaseRunning
}

// State returns the wire name reported in model.TrainingStatus.
func (p Phase) State() string {
	switch p {
	case PhasePreparingData:
		return model.StatePreparing
	case PhaseStarting, PhaseRunning:
		return model.StateTraining
	case PhaseSucceeded:
		return model.StateSuccess
	case PhaseFailed:
		return model.StateFailure
	default:
		return model.StateInactive
	}
}
