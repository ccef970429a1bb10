package model

// RunManifest is the canonical per-run job state file.
type RunManifest struct {
	SchemaVersion int    `json:"schema_version"`
	GeneratedAt   string `json:"generated_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	RunID         string `json:"run_id"`
	TargetLang    string `json:"target_lang"`
	WorkRoot      string `json:"work_root"`
	OutputRoot    string `json:"output_root"`
	Total         int    `json:"total"`
	Pending       int    `json:"pending"`
	InFlight      int    `json:"in_flight"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Quarantined   int    `json:"quarantined"`
	Interrupted   bool   `json:"interrupted,omitempty"`
	Finished      bool   `json:"finished,omitempty"`
	Jobs          []Job  `json:"jobs"`
}

// Job is one input chunk that translates into exactly one output file.
// ID is the slash-separated path relative to the work root and doubles as
// the output name under the output root.
type Job struct {
	ID            string `json:"id"`
	Group         string `json:"group"`
	Base          string `json:"base"`
	ChunkIndex    int    `json:"chunk_index"`
	InputPath     string `json:"input_path"`
	OutputPath    string `json:"output_path"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	LastAttemptAt string `json:"last_attempt_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// Artifact is a result file produced by one successful remote operation.
type Artifact struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type QuarantineEntry struct {
	At       string `json:"at"`
	JobID    string `json:"job_id"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// WorkBatch groups the chunks that were split from one source document.
type WorkBatch struct {
	Group string `json:"group"`
	Base  string `json:"base"`
	Jobs  []Job  `json:"jobs"`
}
