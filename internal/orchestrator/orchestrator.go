// Package orchestrator is the public entry point for scaffolding jobs: it
// creates the record, provisions the sandbox, fires the CLI and hands the
// job to its monitor. All runtime state (active jobs, sandbox handles) lives
// on the orchestrator instance, not in package globals.
package orchestrator

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/internal/config"
	"github.com/mehular0ra/forge/internal/events"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/monitor"
	"github.com/mehular0ra/forge/internal/sandbox"
	"github.com/mehular0ra/forge/internal/store"
	"github.com/mehular0ra/forge/model"
)

var appNameRe = regexp.MustCompile(`^[A-Za-z0-9 -]+$`)

// activeJob is the in-process handle for a job whose monitor is running.
type activeJob struct {
	sbx       sandbox.Sandbox
	cancel    context.CancelFunc
	startedAt time.Time
}

type Orchestrator struct {
	jobs        store.JobStore
	provisioner sandbox.Provisioner
	persist     monitor.AppPersister
	pub         events.Publisher
	cfg         *config.OrchestratorConfig

	mu     sync.Mutex
	active map[string]*activeJob

	janitorStop chan struct{}
	janitorDone chan struct{}
}

func New(jobs store.JobStore, provisioner sandbox.Provisioner, persist monitor.AppPersister, pub events.Publisher, cfg *config.OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		jobs:        jobs,
		provisioner: provisioner,
		persist:     persist,
		pub:         pub,
		cfg:         cfg,
		active:      make(map[string]*activeJob),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	go o.janitor()
	return o
}

// StartJob validates input, creates the record and kicks off provisioning in
// the background. It returns as soon as the record is readable; progress is
// observed by polling GetStatus.
func (o *Orchestrator) StartJob(ctx context.Context, userID, appName string) (string, error) {
	if userID == "" {
		return "", &apperr.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if appName == "" || !appNameRe.MatchString(appName) {
		return "", &apperr.ValidationError{Field: "appName", Reason: "only letters, digits, spaces and dashes are allowed"}
	}

	jobID := uuid.NewString()
	now := model.NormalizeTime(time.Now())
	job := &model.Job{
		ID:        jobID,
		UserID:    userID,
		AppName:   appName,
		Status:    model.StatusRunning,
		Stage:     model.StageInitializing,
		Output:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.jobs.Create(ctx, job); err != nil {
		return "", err
	}
	if err := o.pub.Publish(events.JobCreated, jobID); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("job created event publish failed")
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.active[jobID] = &activeJob{cancel: cancel, startedAt: time.Now()}
	o.mu.Unlock()

	go o.launch(jobCtx, jobID, appName)

	logger.Log.Info().Str("job_id", jobID).Str("app_name", appName).Msg("scaffolding job started")
	return jobID, nil
}

// launch provisions the sandbox, starts the CLI in the background and runs
// the monitor loop until the job terminates. Any error on this path becomes
// a failed JobRecord, never an unhandled crash.
func (o *Orchestrator) launch(ctx context.Context, jobID, appName string) {
	sbx, err := o.provisioner.Create(ctx, "")
	if err != nil {
		o.fail(jobID, &apperr.UpstreamError{Op: "sandbox create", Err: err})
		return
	}

	o.mu.Lock()
	if a, ok := o.active[jobID]; ok {
		a.sbx = sbx
	}
	o.mu.Unlock()

	sandboxID := sbx.ID()
	stage := model.StageCreating
	if _, err := o.jobs.Update(ctx, jobID, model.JobUpdate{SandboxID: &sandboxID, Stage: &stage}); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("sandbox id write failed")
	}

	setup := "mkdir -p " + monitor.WorkspaceDir
	if _, err := sbx.RunCommand(ctx, setup, sandbox.RunOptions{Timeout: 10 * time.Second}); err != nil {
		o.fail(jobID, &apperr.UpstreamError{Op: "workspace setup", Err: err})
		return
	}
	if _, err := sbx.RunCommand(ctx, monitor.ScaffoldCommand(appName), sandbox.RunOptions{Background: true}); err != nil {
		o.fail(jobID, &apperr.UpstreamError{Op: "scaffold launch", Err: err})
		return
	}

	m := monitor.New(jobID, appName, sbx, o.jobs, o.persist, o.pub,
		monitor.Config{
			PollInterval: o.cfg.PollInterval,
			Ceiling:      o.cfg.JobCeiling,
			ProbeTimeout: o.cfg.ProbeTimeout,
		},
		o.release,
	)
	m.Run(ctx)
}

// GetStatus returns the caller's view of a job. Ownership mismatches get the
// same generic denial regardless of why.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID, requestingUserID string) (*model.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != requestingUserID {
		return nil, apperr.ErrAccessDenied
	}
	return job, nil
}

// AcknowledgeSetup is the caller-driven nudge after the user finished
// interactive authentication out-of-band.
func (o *Orchestrator) AcknowledgeSetup(ctx context.Context, jobID, requestingUserID string) (*model.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != requestingUserID {
		return nil, apperr.ErrAccessDenied
	}
	if job.Status.Terminal() {
		return job, nil
	}

	stage := model.StageFinalizing
	status := model.StatusRunning
	return o.jobs.Update(ctx, jobID, model.JobUpdate{Stage: &stage, Status: &status})
}

// fail converts a start-path error into a terminal record and releases the
// in-process handle.
func (o *Orchestrator) fail(jobID string, cause error) {
	logger.Log.Error().Err(cause).Str("job_id", jobID).Msg("job start failed")

	status := model.StatusFailed
	stage := model.StageError
	msg := cause.Error()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := o.jobs.Update(ctx, jobID, model.JobUpdate{Status: &status, Stage: &stage, Error: &msg}); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("failure write failed")
	}
	if err := o.pub.Publish(events.JobFailed, jobID); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("failure event publish failed")
	}
	o.release(jobID)
}

// release drops the in-process handle: cancels the monitor, removes the job
// from the active table and tears the sandbox down best effort.
func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	a, ok := o.active[jobID]
	delete(o.active, jobID)
	o.mu.Unlock()
	if !ok {
		return
	}

	a.cancel()
	if a.sbx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.sbx.Destroy(ctx); err != nil {
			logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("sandbox teardown failed")
		}
	}
}

// janitor periodically reaps abandoned in-process jobs and sweeps old
// records out of the store.
func (o *Orchestrator) janitor() {
	defer close(o.janitorDone)

	tick := time.NewTicker(o.cfg.SweepInterval)
	defer tick.Stop()

	for {
		select {
		case <-o.janitorStop:
			return
		case <-tick.C:
			o.reapAbandoned()
			o.sweepRecords()
		}
	}
}

func (o *Orchestrator) reapAbandoned() {
	cutoff := time.Now().Add(-o.cfg.AbandonAfter)

	o.mu.Lock()
	var stale []string
	for id, a := range o.active {
		if a.startedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	o.mu.Unlock()

	for _, id := range stale {
		logger.Log.Warn().Str("job_id", id).Msg("reaping abandoned job")
		status := model.StatusFailed
		stage := model.StageError
		msg := "job abandoned: no progress within the inactivity window"
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := o.jobs.Update(ctx, id, model.JobUpdate{Status: &status, Stage: &stage, Error: &msg}); err != nil {
			logger.Log.Warn().Err(err).Str("job_id", id).Msg("abandonment write failed")
		}
		cancel()
		o.release(id)
	}
}

func (o *Orchestrator) sweepRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := o.jobs.DeleteOlderThan(ctx, time.Now().Add(-o.cfg.RecordRetention))
	if err != nil {
		logger.Log.Warn().Err(err).Msg("record retention sweep failed")
		return
	}
	if n > 0 {
		logger.Log.Info().Int("deleted", n).Msg("retention sweep removed old job records")
	}
}

// ActiveJobs reports how many jobs currently hold in-process handles.
func (o *Orchestrator) ActiveJobs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Close stops the janitor and releases every active job.
func (o *Orchestrator) Close() {
	close(o.janitorStop)
	<-o.janitorDone

	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.release(id)
	}
}
