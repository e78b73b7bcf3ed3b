package importer

// Stats counts what happened during one import run.
type Stats struct {
	EntriesRead       int // Well-formed entries handed to the session
	EntriesAdded      int // Entries the server accepted
	ErrorsEncountered int // Every error, including setup and rejected adds
	FatalErrors       int // Decode errors that ended the run
	RecoverableErrors int // Malformed records that were skipped
	SetupErrors       int // Open, connect and bind failures
}

// Fields returns the counters as log fields.
func (s Stats) Fields() map[string]any {
	return map[string]any{
		"entries_read":       s.EntriesRead,
		"entries_added":      s.EntriesAdded,
		"errors_encountered": s.ErrorsEncountered,
		"fatal_errors":       s.FatalErrors,
		"recoverable_errors": s.RecoverableErrors,
		"setup_errors":       s.SetupErrors,
	}
}
