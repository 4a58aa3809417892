package withdrawal

// State is a step of a withdrawal attempt.
type State string

const (
	StateRequested           State = "requested"
	StateComplianceChecked   State = "compliance_checked"
	StateSplitValidated      State = "split_validated"
	StateBankTransferPending State = "bank_transfer_pending"
	StateBlockchainRecording State = "blockchain_recording"
	StateCompleted           State = "completed"
	StateRejected            State = "rejected"
)

// StepResult is the outcome of one external step. A fatal failure rejects
// the whole attempt before the ledger is touched; a non-fatal one becomes a
// warning on a completed withdrawal.
type StepResult struct {
	State State
	Fatal bool
	Err   error
}

func succeeded(s State) StepResult {
	return StepResult{State: s}
}

func fatal(s State, err error) StepResult {
	return StepResult{State: s, Fatal: true, Err: err}
}

func nonFatal(s State, err error) StepResult {
	return StepResult{State: s, Err: err}
}

// Failed reports whether the step returned an error.
func (r StepResult) Failed() bool { return r.Err != nil }
