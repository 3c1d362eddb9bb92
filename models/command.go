package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdStartJob      CommandType = "start_job"
	CmdCancelJob     CommandType = "cancel_job"
	CmdPauseJob      CommandType = "pause_job"
	CmdResumeJob     CommandType = "resume_job"
	CmdResetJob      CommandType = "reset_job"
	CmdPurge         CommandType = "purge"
	CmdLookupMissing CommandType = "lookup_missing"
	CmdRecompute     CommandType = "recompute_progress"
)

// Command is an operator request dropped into the queue database by
// another process (CLI, admin tooling).
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	JobID int64 `json:"job_id,omitempty"`
	Limit int   `json:"limit,omitempty"`
}
