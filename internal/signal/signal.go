// Package signal extracts structured signals from the unstructured, growing
// output of the scaffolding CLI. Everything here is a best-effort heuristic
// over free-form text: upstream phrasing changes degrade detection, they do
// not break it. All functions are pure and safe to call on every poll tick.
package signal

import (
	"regexp"
	"strings"

	"github.com/mehular0ra/forge/model"
)

// FallbackAuthURL is reported when the CLI demanded authentication but no
// concrete URL could be extracted from its output.
const FallbackAuthURL = "https://partners.shopify.com"

// authPatterns is tried in order; the first capture wins. Each pattern pairs
// an instruction phrase with a URL restricted to the partner domain so that
// arbitrary URLs in CLI noise are never mistaken for auth links.
var authPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)visit the following URL[^:]*:\s*(https://(?:partners|accounts)\.shopify\.com[^\s"']*)`),
	regexp.MustCompile(`(?i)(?:open|visit|navigate to)[^\n]*?(https://(?:partners|accounts)\.shopify\.com[^\s"']*)`),
	regexp.MustCompile(`(?i)to authenticate[^\n]*?(https://(?:partners|accounts)\.shopify\.com[^\s"']*)`),
	regexp.MustCompile(`(https://accounts\.shopify\.com/activate[^\s"']*)`),
	regexp.MustCompile(`(https://partners\.shopify\.com/[^\s"']+)`),
}

// ExtractAuthURL scans the full accumulated output for an authentication URL.
// Matching is memoryless: callers own "first found wins" and must not
// overwrite a URL discovered on an earlier tick.
func ExtractAuthURL(text string) (string, bool) {
	for _, re := range authPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			url := strings.TrimRight(m[1], ".,)")
			return url, true
		}
	}
	return "", false
}

// stageGroup maps a keyword group to the stage it indicates.
type stageGroup struct {
	stage    model.Stage
	keywords []string
}

// Ordered: the first group with any keyword present wins.
var stageGroups = []stageGroup{
	{model.StageCreating, []string{"creating", "setting up", "scaffolding", "generating", "cloning"}},
	{model.StageWaitingAuth, []string{"authenticate", "log in", "login", "sign in", "verification code", "press any key"}},
	{model.StageAuthenticating, []string{"authenticating", "completing authentication", "verifying"}},
	{model.StageFinalizing, []string{"finalizing", "finishing", "installing"}},
	{model.StageCompleted, []string{"success", "completed", "done"}},
}

// ClassifyStage maps accumulated output text to the pipeline stage it most
// likely describes. Defaults to creating when nothing matches.
func ClassifyStage(text string) model.Stage {
	lower := strings.ToLower(text)
	for _, g := range stageGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g.stage
			}
		}
	}
	return model.StageCreating
}
