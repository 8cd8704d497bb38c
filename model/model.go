package model

import (
	"time"
)

// Status is the coarse lifecycle state of a scaffolding job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Stage is the finer-grained phase a running job is believed to be in.
// Stages are inferred from sandbox observations and are best-effort except
// for the terminal ones.
type Stage string

const (
	StageInitializing   Stage = "initializing"
	StageCreating       Stage = "creating"
	StageWaitingAuth    Stage = "waiting_auth"
	StageAuthenticating Stage = "authenticating"
	StageFinalizing     Stage = "finalizing"
	StageCompleted      Stage = "completed"
	StageError          Stage = "error"
)

// Terminal reports whether no further stage transitions are allowed.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Terminal reports whether the job has stopped for good.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one long-running app-scaffolding request.
type Job struct {
	ID        string         `db:"id" json:"jobId"`
	UserID    string         `db:"user_id" json:"userId"`
	AppName   string         `db:"app_name" json:"appName"`
	Status    Status         `db:"status" json:"status"`
	Stage     Stage          `db:"stage" json:"stage"`
	Output    []string       `db:"output" json:"output"`
	AuthURL   string         `db:"auth_url" json:"authUrl,omitempty"`
	Error     string         `db:"error" json:"error,omitempty"`
	SandboxID string         `db:"sandbox_id" json:"sandboxId,omitempty"`
	AppData   map[string]any `db:"app_data" json:"appData,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate freely.
func (j *Job) Clone() *Job {
	c := *j
	c.Output = append([]string(nil), j.Output...)
	if j.AppData != nil {
		c.AppData = make(map[string]any, len(j.AppData))
		for k, v := range j.AppData {
			c.AppData[k] = v
		}
	}
	return &c
}

// JobUpdate is a partial mutation of a Job. Nil fields are left untouched;
// Output replaces the whole slice when non-nil. UpdatedAt is always refreshed
// by the store, never by callers.
type JobUpdate struct {
	Status    *Status
	Stage     *Stage
	Output    []string
	AuthURL   *string
	Error     *string
	SandboxID *string
	AppData   map[string]any
}

// Apply merges the update into the job in place.
func (u JobUpdate) Apply(j *Job, now time.Time) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Stage != nil {
		j.Stage = *u.Stage
	}
	if u.Output != nil {
		j.Output = append([]string(nil), u.Output...)
	}
	if u.AuthURL != nil {
		j.AuthURL = *u.AuthURL
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.SandboxID != nil {
		j.SandboxID = *u.SandboxID
	}
	if u.AppData != nil {
		j.AppData = u.AppData
	}
	j.UpdatedAt = now
}

// Project is a single-shot generated web application.
type Project struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	PreviewURL  string    `json:"previewUrl,omitempty"`
	SandboxID   string    `json:"sandboxId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NormalizeTime collapses timestamps from different store backends to one
// representation (UTC, millisecond precision) so callers never special-case
// record origin.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
