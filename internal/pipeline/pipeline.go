// Package pipeline turns a natural-language prompt into a deployed preview:
// LLM completion, code-block extraction, sandbox deploy, persistence. Code
// generation and deployment are deliberately decoupled so a deploy failure
// still returns the generated code to the caller.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/internal/codeblocks"
	"github.com/mehular0ra/forge/internal/llm"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/projectstore"
	"github.com/mehular0ra/forge/internal/sandbox"
	"github.com/mehular0ra/forge/internal/tracer"
	"github.com/mehular0ra/forge/internal/util"
	"github.com/mehular0ra/forge/model"
)

// AppDir is where generated files land inside the sandbox.
const AppDir = "/app"

const systemPromptFmt = `You are a web application generator. Produce a complete, minimal Node.js web application for the user's request.

Rules:
- Return every file in its own fenced code block.
- The first line of each block must be a comment naming the file, e.g. // server.js
- Include a package.json with a "start" script.
- The server must listen on port %d.
- Use only dependencies available on the public npm registry.
- No explanations outside the code blocks.`

// defaultPackageJSON backstops responses that omit a manifest so npm start
// still has something to run.
const defaultPackageJSON = `{
  "name": "generated-app",
  "version": "1.0.0",
  "scripts": {
    "start": "node server.js"
  }
}
`

// Generation is the caller-facing result. A deploy failure leaves PreviewURL
// empty and Error set while the code and project record survive.
type Generation struct {
	Project    *model.Project    `json:"project"`
	Files      map[string]string `json:"files"`
	PreviewURL string            `json:"previewUrl,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type Pipeline struct {
	llm         llm.Client
	provisioner sandbox.Provisioner
	projects    projectstore.Store
	appPort     int
	grace       time.Duration

	// previewAlive reports whether a previously issued preview URL still
	// answers. Swappable for tests.
	previewAlive func(ctx context.Context, url string) bool
}

func New(llmClient llm.Client, provisioner sandbox.Provisioner, projects projectstore.Store, appPort int, grace time.Duration) *Pipeline {
	hc := &http.Client{
		Timeout:   5 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Pipeline{
		llm:         llmClient,
		provisioner: provisioner,
		projects:    projects,
		appPort:     appPort,
		grace:       grace,
		previewAlive: func(ctx context.Context, url string) bool {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return false
			}
			resp, err := hc.Do(req)
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode < http.StatusInternalServerError
		},
	}
}

// Generate runs the full prompt-to-preview pipeline for one request.
func (p *Pipeline) Generate(ctx context.Context, userID, prompt string) (*Generation, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "Pipeline/Generate")
	defer span.End()

	if userID == "" {
		return nil, &apperr.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, &apperr.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}

	completion, err := p.llm.Complete(ctx, fmt.Sprintf(systemPromptFmt, p.appPort), prompt)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, &apperr.UpstreamError{Op: "llm completion", Err: err}
	}
	logger.Log.Info().
		Str("user_id", userID).
		Int("input_tokens", completion.Usage.InputTokens).
		Int("output_tokens", completion.Usage.OutputTokens).
		Msg("llm completion received")

	files := codeblocks.Extract(completion.Text)
	if len(files) == 0 {
		err := fmt.Errorf("model response contained no code blocks")
		util.RecordSpanError(span, err)
		return nil, &apperr.UpstreamError{Op: "code extraction", Err: err}
	}
	if _, ok := files["package.json"]; !ok {
		files["package.json"] = defaultPackageJSON
	}

	name, err := p.nextProjectName(ctx, userID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	project := &model.Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: summarize(prompt),
		Prompt:      prompt,
		CreatedAt:   model.NormalizeTime(time.Now()),
	}

	gen := &Generation{Project: project, Files: files}
	if previewURL, sandboxID, err := p.deploy(ctx, files); err != nil {
		logger.Log.Warn().Err(err).Str("project_id", project.ID).Msg("deploy failed, returning code without preview")
		gen.Error = fmt.Sprintf("deploy failed: %v", err)
	} else {
		project.PreviewURL = previewURL
		project.SandboxID = sandboxID
		gen.PreviewURL = previewURL
	}

	if err := p.projects.Save(ctx, project, files); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	logger.Log.Info().
		Str("project_id", project.ID).
		Str("name", project.Name).
		Bool("preview", gen.PreviewURL != "").
		Msg("project generated")
	return gen, nil
}

// GetProject returns a stored project and its files, re-deploying to a fresh
// sandbox when the original preview no longer answers. The refreshed preview
// is a derived value; losing the write is harmless.
func (p *Pipeline) GetProject(ctx context.Context, userID, projectID string) (*Generation, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "Pipeline/GetProject")
	defer span.End()

	project, files, err := p.projects.Get(ctx, userID, projectID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	if project.PreviewURL == "" || !p.previewAlive(ctx, project.PreviewURL) {
		previewURL, sandboxID, err := p.deploy(ctx, files)
		if err != nil {
			logger.Log.Warn().Err(err).Str("project_id", projectID).Msg("re-deploy failed, returning project without preview")
			project.PreviewURL = ""
			project.SandboxID = ""
		} else {
			project.PreviewURL = previewURL
			project.SandboxID = sandboxID
			if err := p.projects.RefreshPreview(ctx, project); err != nil {
				logger.Log.Warn().Err(err).Str("project_id", projectID).Msg("preview refresh write failed")
			}
		}
	}

	return &Generation{Project: project, Files: files, PreviewURL: project.PreviewURL}, nil
}

// deploy provisions a sandbox, writes the files and starts the app. Returns
// the preview URL and sandbox id.
func (p *Pipeline) deploy(ctx context.Context, files map[string]string) (string, string, error) {
	sbx, err := p.provisioner.Create(ctx, "")
	if err != nil {
		return "", "", fmt.Errorf("sandbox create: %w", err)
	}

	fail := func(err error) (string, string, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if derr := sbx.Destroy(dctx); derr != nil {
			logger.Log.Warn().Err(derr).Str("sandbox_id", sbx.ID()).Msg("sandbox teardown failed")
		}
		return "", "", err
	}

	if _, err := sbx.RunCommand(ctx, "mkdir -p "+AppDir, sandbox.RunOptions{Timeout: 10 * time.Second}); err != nil {
		return fail(fmt.Errorf("app dir setup: %w", err))
	}
	for name, content := range files {
		if err := sbx.WriteFile(ctx, AppDir+"/"+name, []byte(content)); err != nil {
			return fail(fmt.Errorf("write %s: %w", name, err))
		}
	}

	start := fmt.Sprintf("cd %s && npm install --omit=dev >> %s/deploy.log 2>&1; npm start >> %s/deploy.log 2>&1", AppDir, AppDir, AppDir)
	if _, err := sbx.RunCommand(ctx, start, sandbox.RunOptions{Background: true}); err != nil {
		return fail(fmt.Errorf("app start: %w", err))
	}

	// Give the server a moment to bind before handing out the URL.
	select {
	case <-time.After(p.grace):
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	host, err := sbx.Host(p.appPort)
	if err != nil {
		return fail(fmt.Errorf("resolve app host: %w", err))
	}
	return "https://" + host, sbx.ID(), nil
}

// nextProjectName derives a deterministic zero-padded ordinal name from the
// user's current project count. Two concurrent generations can race to the
// same ordinal; names are labels, not keys, so the collision is cosmetic.
func (p *Pipeline) nextProjectName(ctx context.Context, userID string) (string, error) {
	n, err := p.projects.Count(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("project count: %w", err)
	}
	return fmt.Sprintf("project-%03d", n+1), nil
}

// summarize truncates the prompt into a short description.
func summarize(prompt string) string {
	s := strings.TrimSpace(prompt)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
