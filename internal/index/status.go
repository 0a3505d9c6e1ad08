package index

// Status summarizes an indexing run for consumers. Field names follow
// the host bridge wire format.
type Status struct {
	// Ready is true once the index can serve lookups.
	Ready bool `json:"ready"`
	// TotalEvents is the number of transcript events indexed.
	TotalEvents int `json:"totalEvents"`
	// FileEditsCount is the number of file edit operations found.
	FileEditsCount int `json:"fileEditsCount"`
	// FilesEditedCount is the number of unique files edited.
	FilesEditedCount int `json:"filesEditedCount"`
	// Error is set when the run failed. A status carrying an error is a
	// failure outcome regardless of the other fields.
	Error string `json:"error,omitempty"`
}

// Building returns the status reported while an index is being built.
func Building() Status {
	return Status{}
}

// Failed returns a failure status with the given message.
func Failed(msg string) Status {
	return Status{Error: msg}
}
