package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/pipeline"
	"github.com/mehular0ra/forge/model"
)

func TestMain(m *testing.M) {
	logger.Init("web-test")
	os.Exit(m.Run())
}

type stubJobs struct {
	startErr error
	statusFn func(jobID, userID string) (*model.Job, error)
	ackFn    func(jobID, userID string) (*model.Job, error)
}

func (s *stubJobs) StartJob(_ context.Context, userID, appName string) (string, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	if userID == "" {
		return "", &apperr.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	return "job-1", nil
}

func (s *stubJobs) GetStatus(_ context.Context, jobID, userID string) (*model.Job, error) {
	return s.statusFn(jobID, userID)
}

func (s *stubJobs) AcknowledgeSetup(_ context.Context, jobID, userID string) (*model.Job, error) {
	return s.ackFn(jobID, userID)
}

type stubProjects struct {
	generateFn func(userID, prompt string) (*pipeline.Generation, error)
	getFn      func(userID, projectID string) (*pipeline.Generation, error)
}

func (s *stubProjects) Generate(_ context.Context, userID, prompt string) (*pipeline.Generation, error) {
	return s.generateFn(userID, prompt)
}

func (s *stubProjects) GetProject(_ context.Context, userID, projectID string) (*pipeline.Generation, error) {
	return s.getFn(userID, projectID)
}

func sampleJob() *model.Job {
	now := model.NormalizeTime(time.Now())
	return &model.Job{
		ID: "job-1", UserID: "u1", AppName: "demo app",
		Status: model.StatusRunning, Stage: model.StageCreating,
		Output: []string{"Creating app..."}, CreatedAt: now, UpdatedAt: now,
	}
}

func newTestServer(jobs JobService, projects ProjectService) *httptest.Server {
	return httptest.NewServer(NewServer(jobs, projects).Router())
}

func TestStartJob(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubJobs{}, &stubProjects{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/job", strings.NewReader(`{"appName":"demo app"}`))
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body startJobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "job-1", body.JobID)
}

func TestStartJobMissingUser(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubJobs{}, &stubProjects{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/job", "application/json", strings.NewReader(`{"appName":"demo app"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartJobBadJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubJobs{}, &stubProjects{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/job", strings.NewReader(`{`))
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobStatusErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperr.ErrNotFound, http.StatusNotFound},
		{"access denied", apperr.ErrAccessDenied, http.StatusForbidden},
		{"validation", &apperr.ValidationError{Field: "jobId", Reason: "bad"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			jobs := &stubJobs{statusFn: func(string, string) (*model.Job, error) { return nil, tt.err }}
			srv := newTestServer(jobs, &stubProjects{})
			defer srv.Close()

			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/job/job-1", nil)
			req.Header.Set("X-User-ID", "u1")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestJobStatusBody(t *testing.T) {
	t.Parallel()

	jobs := &stubJobs{statusFn: func(jobID, userID string) (*model.Job, error) {
		require.Equal(t, "job-1", jobID)
		require.Equal(t, "u1", userID)
		return sampleJob(), nil
	}}
	srv := newTestServer(jobs, &stubProjects{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/job/job-1", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "job-1", got["jobId"])
	require.Equal(t, "running", got["status"])
	require.Equal(t, "creating", got["stage"])
}

func TestSetupComplete(t *testing.T) {
	t.Parallel()

	jobs := &stubJobs{ackFn: func(jobID, userID string) (*model.Job, error) {
		j := sampleJob()
		j.Stage = model.StageFinalizing
		return j, nil
	}}
	srv := newTestServer(jobs, &stubProjects{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/job/job-1/setup-complete", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "finalizing", got["stage"])
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	projects := &stubProjects{generateFn: func(userID, prompt string) (*pipeline.Generation, error) {
		require.Equal(t, "u1", userID)
		require.Equal(t, "a todo app", prompt)
		return &pipeline.Generation{
			Project:    &model.Project{ID: "p1", UserID: userID, Name: "project-001"},
			Files:      map[string]string{"server.js": "..."},
			PreviewURL: "https://10.0.0.9:3000",
		}, nil
	}}
	srv := newTestServer(&stubJobs{}, projects)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/generate", strings.NewReader(`{"prompt":"a todo app"}`))
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got pipeline.Generation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "https://10.0.0.9:3000", got.PreviewURL)
	require.Contains(t, got.Files, "server.js")
}

func TestGetProjectNotFound(t *testing.T) {
	t.Parallel()

	projects := &stubProjects{getFn: func(string, string) (*pipeline.Generation, error) {
		return nil, apperr.ErrNotFound
	}}
	srv := newTestServer(&stubJobs{}, projects)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/project/nope", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
