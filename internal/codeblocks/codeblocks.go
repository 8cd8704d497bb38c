// Package codeblocks turns LLM response text into a filename → content
// mapping. Blocks are fenced with ``` and may carry the filename either on
// the fence line or in a leading comment; when neither is present the
// filename is inferred by sniffing the content.
package codeblocks

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?ms)^```([^\\n]*)\\n(.*?)^```\\s*$")

// Comment forms accepted as a filename marker on the first line of a block:
// "// server.js", "# Dockerfile", "<!-- index.html -->", "/* style.css */".
var commentNameRe = regexp.MustCompile(`^\s*(?://|#|<!--|/\*)\s*([\w./-]+\.[A-Za-z0-9]+)\s*(?:-->|\*/)?\s*$`)

// Extract parses fenced code blocks out of text. Returns an empty map when
// the text contains no blocks.
func Extract(text string) map[string]string {
	files := make(map[string]string)

	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		info := strings.TrimSpace(m[1])
		body := m[2]

		name := nameFromInfo(info)

		lines := strings.SplitN(body, "\n", 2)
		if name == "" && len(lines) > 0 {
			if cm := commentNameRe.FindStringSubmatch(lines[0]); cm != nil {
				name = cm[1]
				if len(lines) == 2 {
					body = lines[1]
				} else {
					body = ""
				}
			}
		}

		if name == "" {
			name = inferName(body, info)
		}

		files[name] = strings.TrimRight(body, "\n") + "\n"
	}

	return files
}

// nameFromInfo picks a filename off the fence info string ("```js server.js"
// or "```server.js"). A bare language tag is not a filename.
func nameFromInfo(info string) string {
	for _, tok := range strings.Fields(info) {
		if strings.Contains(tok, ".") {
			return tok
		}
	}
	return ""
}

// inferName guesses a filename from block content. Best-effort: collisions
// overwrite, which matches last-block-wins for unnamed duplicate content.
func inferName(body, lang string) string {
	trimmed := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"dependencies"`),
		strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"scripts"`):
		return "package.json"
	case strings.Contains(trimmed, "<!DOCTYPE html") || strings.Contains(trimmed, "<html"):
		return "index.html"
	case strings.Contains(trimmed, "require(") || strings.Contains(trimmed, "express()") ||
		strings.Contains(trimmed, "http.createServer"):
		return "server.js"
	}
	switch strings.ToLower(lang) {
	case "html":
		return "index.html"
	case "css":
		return "style.css"
	case "json":
		return "package.json"
	case "js", "javascript", "node":
		return "server.js"
	}
	return "server.js"
}
