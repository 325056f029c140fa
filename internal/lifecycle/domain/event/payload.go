package event

// PhaseSetPayload captures the payload for lifecycle.phase_set events.
type PhaseSetPayload struct {
	Phase string `json:"phase"`
}

// ProcessSetPayload captures the payload for lifecycle.process_set events.
type ProcessSetPayload struct {
	ProcessID         string `json:"process_id"`
	ProcessType       string `json:"process_type"`
	ProcessVersion    int    `json:"process_version"`
	InitialStageID    string `json:"initial_stage_id"`
	InitialStageName  string `json:"initial_stage_name"`
	InitialStageOrder int    `json:"initial_stage_order"`
}

// StageAdvancedPayload captures the payload for lifecycle.stage_advanced events.
type StageAdvancedPayload struct {
	FromStageID string `json:"from_stage_id,omitempty"`
	StageID     string `json:"stage_id"`
	StageName   string `json:"stage_name"`
	StageOrder  int    `json:"stage_order"`
	Reason      string `json:"reason,omitempty"`
}

// ProcessCompletedPayload captures the payload for lifecycle.process_completed events.
type ProcessCompletedPayload struct {
	ProcessID    string `json:"process_id"`
	ProcessType  string `json:"process_type"`
	TerminalType string `json:"terminal_type"`
	FinalStageID string `json:"final_stage_id"`
	Notes        string `json:"notes,omitempty"`
}
