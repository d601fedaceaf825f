package driver

// State is a step of the session flow.
type State int

const (
	StateLaunching State = iota
	StateConfiguring
	StateNavigating
	StatePreChallengeCheck
	StateFormFilling
	StatePreSubmitChallengeCheck
	StateSubmitting
	StatePostSubmitChallengeCheck
	StateAwaitingResults
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateLaunching:                "launching",
	StateConfiguring:              "configuring",
	StateNavigating:               "navigating",
	StatePreChallengeCheck:        "pre_challenge_check",
	StateFormFilling:              "form_filling",
	StatePreSubmitChallengeCheck:  "pre_submit_challenge_check",
	StateSubmitting:               "submitting",
	StatePostSubmitChallengeCheck: "post_submit_challenge_check",
	StateAwaitingResults:          "awaiting_results",
	StateDone:                     "done",
	StateAborted:                  "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
