package pipeline

// State is the position of one inbound user message in the pipeline
type State string

const (
	StateAdmitted       State = "admitted"
	StateValidated      State = "validated"
	StateAnalyzed       State = "analyzed"
	StatePersisted      State = "persisted"
	StateCrisisFlagged  State = "crisis_flagged"
	StateClear          State = "clear"
	StateReplyRequested State = "reply_requested"
	StateReplyPersisted State = "reply_persisted"
	StateBroadcast      State = "broadcast"
	StateDone           State = "done"

	// StateRejected is terminal: membership or validation failed, nothing
	// was persisted.
	StateRejected State = "rejected"

	// StatePipelineFailed is terminal: a call failed after validation. The
	// user message is persisted so no input is silently lost, but no reply
	// is produced.
	StatePipelineFailed State = "pipeline_failed"
)

// Terminal reports whether the state ends the pipeline
func (s State) Terminal() bool {
	return s == StateDone || s == StateRejected || s == StatePipelineFailed
}
