package paneio

import "strings"

// AssistantType identifies which coding assistant CLI is running in a
// pane's foreground command, purely as display enrichment for
// SessionView: nothing in the detector or responder branches on it.
type AssistantType string

const (
	AssistantUnknown    AssistantType = ""
	AssistantClaudeCode AssistantType = "claude-code"
	AssistantCodex      AssistantType = "codex"
	AssistantQwenCode   AssistantType = "qwen-code"
	AssistantGemini     AssistantType = "gemini"
)

// DisplayName returns a human-readable label, empty for AssistantUnknown.
func (t AssistantType) DisplayName() string {
	switch t {
	case AssistantClaudeCode:
		return "Claude Code"
	case AssistantCodex:
		return "OpenAI Codex"
	case AssistantQwenCode:
		return "Qwen Code"
	case AssistantGemini:
		return "Google Gemini"
	default:
		return ""
	}
}

var assistantPatterns = []struct {
	assistant AssistantType
	needles   []string
}{
	{AssistantClaudeCode, []string{"@anthropic-ai/claude-code", "claude-code/cli.js", "claude-code/bin/"}},
	{AssistantCodex, []string{"@openai/codex", "codex/bin/codex.js", "codex.js"}},
	{AssistantQwenCode, []string{"@qwen-code/qwen-code", "qwen-code/cli.js", "qwen-code/bin/"}},
	{AssistantGemini, []string{"@google/gemini-cli", "gemini-cli/dist/index.js", "gemini-cli/bin/"}},
}

// DetectAssistant classifies a foreground command line, returning
// AssistantUnknown if it matches none of the known CLIs.
func DetectAssistant(command string) AssistantType {
	if command == "" {
		return AssistantUnknown
	}
	normalized := strings.ToLower(command)
	for _, p := range assistantPatterns {
		for _, needle := range p.needles {
			if strings.Contains(normalized, needle) {
				return p.assistant
			}
		}
	}
	return AssistantUnknown
}
