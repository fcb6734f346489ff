package registry

import "bytes"

// identityBanner is one best-effort substring match used to guess which CLI
// program is running inside a pane from its own startup banner. Matching is
// advisory only: per spec's open question on identity detection, it is kept
// out of ordering-critical paths and never blocks or reorders output
// delivery.
type identityBanner struct {
	identity string
	needle   []byte
}

var identityBanners = []identityBanner{
	{identity: "claude-code", needle: []byte("Claude Code")},
	{identity: "codex-cli", needle: []byte("OpenAI Codex")},
	{identity: "aider", needle: []byte("aider v")},
	{identity: "gemini-cli", needle: []byte("Gemini CLI")},
}

// detectIdentity scans chunk for a known CLI banner and returns the matching
// identity label, or "" if none of the fixed patterns appear. Callers only
// need to call this until it returns a non-empty value once per pane.
func detectIdentity(chunk []byte) string {
	for _, b := range identityBanners {
		if bytes.Contains(chunk, b.needle) {
			return b.identity
		}
	}
	return ""
}
