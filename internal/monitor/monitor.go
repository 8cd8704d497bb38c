// Package monitor drives the per-job polling loop against a sandbox. A tick
// triangulates three signals of very different strength: filesystem side
// effects (strongest), textual output patterns, and process liveness
// (weakest). Tick evaluation is a pure function so the state machine can be
// tested without timers or sandboxes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/internal/events"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/sandbox"
	"github.com/mehular0ra/forge/internal/signal"
	"github.com/mehular0ra/forge/internal/store"
	"github.com/mehular0ra/forge/internal/tracer"
	"github.com/mehular0ra/forge/model"
)

const (
	// WorkspaceDir is where the scaffolding CLI works inside the sandbox.
	WorkspaceDir = "/workspace"
	// LogPath collects the CLI's combined output.
	LogPath = WorkspaceDir + "/scaffold.log"

	// scaffoldProcessHint identifies the CLI in the sandbox process list.
	scaffoldProcessHint = "shopify"

	authRequiredLine    = "Authentication required. Open the link below to continue setup."
	stallDiagnosticLine = "Scaffolding process is no longer running; probing for current status."
)

var slugRe = regexp.MustCompile(`[^a-z0-9-]+`)

// AppSlug converts a validated app name into the sandbox-side directory name.
func AppSlug(appName string) string {
	s := strings.ToLower(strings.TrimSpace(appName))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugRe.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "app"
	}
	return s
}

// ProjectDir is the directory the scaffolding CLI is expected to create.
func ProjectDir(appName string) string {
	return WorkspaceDir + "/" + AppSlug(appName)
}

// ScaffoldCommand builds the CLI invocation for an app.
func ScaffoldCommand(appName string) string {
	return fmt.Sprintf("cd %s && shopify app init --name %q --path %s >> %s 2>&1",
		WorkspaceDir, appName, AppSlug(appName), LogPath)
}

// markersCommand probes for completion markers: the package manifest plus an
// application directory are definitive evidence of a finished scaffold.
func markersCommand(appName string) string {
	dir := ProjectDir(appName)
	return fmt.Sprintf("[ -f %s/package.json ] && [ -d %s/app ] && echo present", dir, dir)
}

// Observation is one tick's view of the sandbox.
type Observation struct {
	ProcessAlive bool
	LogText      string
	MarkersFound bool
	// Probed marks that the one-shot diagnostic probe already ran and its
	// output is folded into LogText.
	Probed bool
}

// Delta is the decided outcome of a tick.
type Delta struct {
	Update model.JobUpdate
	// NeedProbe asks the caller to run the diagnostic probe and re-evaluate.
	NeedProbe bool
	Completed bool
}

// hasUpdate reports whether the delta carries anything worth writing. Every
// JobUpdate field counts: a delta holding only an auth URL or an error
// message must still land.
func (d Delta) hasUpdate() bool {
	u := d.Update
	return u.Status != nil || u.Stage != nil || u.Output != nil ||
		u.AuthURL != nil || u.Error != nil || u.SandboxID != nil || u.AppData != nil
}

// DiffNewLines returns the lines of incoming that are genuinely new relative
// to existing, using exact line identity with occurrence counting. Blank
// lines are dropped.
func DiffNewLines(existing, incoming []string) []string {
	counts := make(map[string]int, len(existing))
	for _, l := range existing {
		counts[l]++
	}

	var out []string
	for _, l := range incoming {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if counts[l] > 0 {
			counts[l]--
			continue
		}
		out = append(out, l)
	}
	return out
}

// EvaluateTick decides the job-state delta for one observation. Pure: no
// side effects, no clock, no sandbox.
func EvaluateTick(job *model.Job, obs Observation) Delta {
	if job.Status.Terminal() || job.Stage.Terminal() {
		return Delta{}
	}

	newLines := DiffNewLines(job.Output, strings.Split(obs.LogText, "\n"))
	output := append([]string(nil), job.Output...)
	output = append(output, newLines...)

	authURL := job.AuthURL
	authFound := false
	if authURL == "" {
		if u, ok := signal.ExtractAuthURL(obs.LogText); ok {
			authURL = u
			authFound = true
			output = append(output, authRequiredLine)
		}
	}

	// Filesystem state beats every textual signal.
	if obs.MarkersFound {
		status := model.StatusCompleted
		stage := model.StageCompleted
		d := Delta{Completed: true}
		d.Update = model.JobUpdate{Status: &status, Stage: &stage, Output: output}
		if authURL != job.AuthURL {
			d.Update.AuthURL = &authURL
		}
		return d
	}

	// Ambiguous stall: nothing running, nothing produced, nothing to show.
	if !obs.ProcessAlive && authURL == "" {
		if !obs.Probed {
			return Delta{NeedProbe: true}
		}
		// Probe stayed inconclusive. Prefer parking the job at the auth gate
		// with the generic portal over failing a job that may just be
		// waiting on the user.
		output = append(output, stallDiagnosticLine)
		authURL = signal.FallbackAuthURL
		status := model.StatusRunning
		stage := model.StageWaitingAuth
		return Delta{Update: model.JobUpdate{
			Status: &status, Stage: &stage, Output: output, AuthURL: &authURL,
		}}
	}

	stage := signal.ClassifyStage(strings.Join(output, "\n"))
	if authFound {
		stage = model.StageWaitingAuth
	} else if job.Stage == model.StageWaitingAuth && job.AuthURL != "" && len(newLines) == 0 {
		// The auth gate is open and nothing new was observed: hold position
		// instead of re-deriving an earlier stage from stale text.
		stage = model.StageWaitingAuth
	}
	// A job is never reported waiting for auth without a URL to act on.
	if stage == model.StageWaitingAuth && authURL == "" {
		authURL = signal.FallbackAuthURL
	}
	if stage == model.StageCompleted {
		// Textual completion claims alone do not complete the job; hold at
		// finalizing until the filesystem confirms.
		stage = model.StageFinalizing
	}

	status := model.StatusRunning
	d := Delta{Update: model.JobUpdate{Status: &status, Stage: &stage, Output: output}}
	if authURL != job.AuthURL {
		d.Update.AuthURL = &authURL
	}
	return d
}

// AppPersister records metadata for a successfully scaffolded app; the
// returned payload lands in the job's appData.
type AppPersister interface {
	PersistApp(ctx context.Context, job *model.Job) (map[string]any, error)
}

// Config carries the monitor's timing policy.
type Config struct {
	PollInterval time.Duration
	Ceiling      time.Duration
	ProbeTimeout time.Duration
}

// Monitor polls one job's sandbox until the job terminates or the ceiling
// fires.
type Monitor struct {
	jobID   string
	appName string
	sbx     sandbox.Sandbox
	jobs    store.JobStore
	persist AppPersister
	pub     events.Publisher
	cfg     Config
	onDone  func(jobID string)
}

func New(jobID, appName string, sbx sandbox.Sandbox, jobs store.JobStore, persist AppPersister, pub events.Publisher, cfg Config, onDone func(jobID string)) *Monitor {
	return &Monitor{
		jobID:   jobID,
		appName: appName,
		sbx:     sbx,
		jobs:    jobs,
		persist: persist,
		pub:     pub,
		cfg:     cfg,
		onDone:  onDone,
	}
}

// Run blocks until the job reaches a terminal state, the ceiling fires, or
// ctx is cancelled. Timers are released on every exit path so no scheduled
// work leaks past a terminal job.
func (m *Monitor) Run(ctx context.Context) {
	defer m.onDone(m.jobID)

	ceiling := time.NewTimer(m.cfg.Ceiling)
	defer ceiling.Stop()
	tick := time.NewTicker(m.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ceiling.C:
			m.forceTimeout(context.WithoutCancel(ctx))
			return
		case <-tick.C:
			if done := m.tick(ctx); done {
				return
			}
		}
	}
}

// tick runs one observe/evaluate/write cycle. Any sandbox error skips the
// cycle; the next tick retries.
func (m *Monitor) tick(pctx context.Context) bool {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "Monitor/Tick")
	defer span.End()

	job, err := m.jobs.Get(ctx, m.jobID)
	if err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("tick skipped: job record unreadable")
		return errors.Is(err, store.ErrNotFound)
	}
	if job.Status.Terminal() {
		return true
	}

	obs, err := m.observe(ctx)
	if err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("tick skipped: sandbox unreachable")
		return false
	}

	d := EvaluateTick(job, obs)
	if d.NeedProbe {
		obs.LogText = obs.LogText + "\n" + m.probe(ctx)
		obs.Probed = true
		d = EvaluateTick(job, obs)
	}

	if !d.hasUpdate() {
		return false
	}

	if d.Completed {
		m.complete(ctx, job, d)
		return true
	}

	if _, err := m.jobs.Update(ctx, m.jobID, d.Update); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("tick state write failed")
	}
	return false
}

func (m *Monitor) observe(ctx context.Context) (Observation, error) {
	procs, err := m.sbx.ListProcesses(ctx)
	if err != nil {
		return Observation{}, err
	}
	alive := false
	for _, p := range procs {
		if strings.Contains(p, scaffoldProcessHint) {
			alive = true
			break
		}
	}

	logText := ""
	raw, err := m.sbx.ReadFile(ctx, LogPath)
	switch {
	case err == nil:
		logText = string(raw)
	case errors.Is(err, sandbox.ErrFileNotFound):
		// Log not written yet; treat as empty.
	default:
		return Observation{}, err
	}

	res, err := m.sbx.RunCommand(ctx, markersCommand(m.appName), sandbox.RunOptions{Timeout: 10 * time.Second})
	if err != nil {
		return Observation{}, err
	}

	return Observation{
		ProcessAlive: alive,
		LogText:      logText,
		MarkersFound: strings.Contains(res.Stdout, "present"),
	}, nil
}

// probe re-invokes the scaffolding command once in the foreground, purely to
// capture fresh output for signal extraction. Not a retry of the real job.
func (m *Monitor) probe(ctx context.Context) string {
	res, err := m.sbx.RunCommand(ctx, ScaffoldCommand(m.appName), sandbox.RunOptions{Timeout: m.cfg.ProbeTimeout})
	if err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("diagnostic probe failed")
		return ""
	}
	return res.Stdout + "\n" + res.Stderr
}

func (m *Monitor) complete(ctx context.Context, job *model.Job, d Delta) {
	merged := job.Clone()
	d.Update.Apply(merged, model.NormalizeTime(time.Now()))

	if m.persist != nil {
		appData, err := m.persist.PersistApp(ctx, merged)
		if err != nil {
			logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("app metadata persistence failed")
		} else {
			d.Update.AppData = appData
		}
	}

	if _, err := m.jobs.Update(ctx, m.jobID, d.Update); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("completion write failed")
	}
	if err := m.pub.Publish(events.JobCompleted, m.jobID); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("completion event publish failed")
	}
	logger.Log.Info().Str("job_id", m.jobID).Msg("scaffolding completed")
}

// forceTimeout converts a job that outlived the hard ceiling into a terminal
// failure.
func (m *Monitor) forceTimeout(ctx context.Context) {
	terr := &apperr.TimeoutError{After: m.cfg.Ceiling.String()}
	status := model.StatusFailed
	stage := model.StageError
	msg := terr.Error()
	if _, err := m.jobs.Update(ctx, m.jobID, model.JobUpdate{
		Status: &status, Stage: &stage, Error: &msg,
	}); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("timeout write failed")
	}
	if err := m.pub.Publish(events.JobFailed, m.jobID); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", m.jobID).Msg("failure event publish failed")
	}
	logger.Log.Warn().Str("job_id", m.jobID).Msg("job hit the hard ceiling and was failed")
}
