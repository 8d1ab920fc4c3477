package testutil

import "time"

// JobCommand records a PUT /api/jobs/{id} call for verification
type JobCommand struct {
	Timestamp time.Time
	JobID     string
	Command   string
	Force     bool
}

// FilterCommands returns the calls for jobID with the given command
func FilterCommands(calls []JobCommand, jobID, command string) []JobCommand {
	var filtered []JobCommand
	for _, call := range calls {
		if call.JobID == jobID && call.Command == command {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// LastCommand finds the most recent call for jobID
func LastCommand(calls []JobCommand, jobID string) *JobCommand {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].JobID == jobID {
			call := calls[i]
			return &call
		}
	}
	return nil
}
