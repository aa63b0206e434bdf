package pbs

// PollState is the client-side view of a job's lifecycle.
type PollState int

const (
	Submitted PollState = iota
	Running
	Completed
	TimedOut
	SubmissionFailed
)

func (s PollState) String() string {
	switch s {
	case Submitted:
		return "Submitted"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case TimedOut:
		return "TimedOut"
	case SubmissionFailed:
		return "SubmissionFailed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s PollState) Terminal() bool {
	return s == Completed || s == TimedOut || s == SubmissionFailed
}

// PollStateFromJobState maps a Torque job_state letter onto a PollState.
//
//	Q queued, H held, W waiting, T transit   -> Submitted
//	R running, E exiting, S suspended        -> Running
//	C completed (Torque), F finished (PBS Pro) -> Completed
//
// Unknown letters are treated as Running so that polling continues.
func PollStateFromJobState(jobState string) PollState {
	switch jobState {
	case "C", "F":
		return Completed
	case "Q", "H", "W", "T":
		return Submitted
	default:
		return Running
	}
}
