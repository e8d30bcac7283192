// Package toolcall implements the prompted tool-calling protocol for LLM
// providers that lack native function-calling: the model is instructed to
// emit `<tool_call>{...}</tool_call>` blocks in its free-form output, and
// this package extracts them, leaving surrounding prose intact.
package toolcall

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/duskvane/aegis/llm"
)

const (
	openTag  = "<tool_call>"
	closeTag = "</tool_call>"
)

// blockPayload is the JSON shape expected inside a <tool_call> block.
type blockPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Extract scans content for <tool_call>{...}</tool_call> blocks, returning
// the parsed calls plus whatever text is left once they are removed. A
// block that is unterminated (no matching close tag) or whose body isn't
// valid JSON with a non-empty "name" is left in the output text verbatim
// rather than raised as an error: a malformed tool call from the model is
// still a message worth showing, not a protocol failure.
func Extract(content string) (calls []llm.ToolCall, text string) {
	var out strings.Builder
	remaining := content

	for {
		start := strings.Index(remaining, openTag)
		if start == -1 {
			out.WriteString(remaining)
			break
		}
		out.WriteString(remaining[:start])
		afterOpen := remaining[start+len(openTag):]

		end := strings.Index(afterOpen, closeTag)
		if end == -1 {
			// No closing tag anywhere in the rest of the response: treat the
			// tag and everything after it as literal text.
			out.WriteString(remaining[start:])
			break
		}

		body := afterOpen[:end]
		remaining = afterOpen[end+len(closeTag):]

		var payload blockPayload
		if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &payload); err != nil || payload.Name == "" {
			out.WriteString(openTag + body + closeTag)
			continue
		}

		calls = append(calls, llm.ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      payload.Name,
			Arguments: payload.Arguments,
		})
	}

	return calls, strings.TrimSpace(out.String())
}

// BuildInstructions renders the system-prompt fragment that tells a
// non-native-tool-calling model how to invoke the given tools: emit exactly
// one <tool_call> block per call, JSON body {"name", "arguments"}. Appended
// to the agent's system prompt only when the active provider reports
// SupportsNativeFunctionCalling() == false.
func BuildInstructions(schemas []llm.ToolSchema) string {
	if len(schemas) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You do not have native function calling. To use a tool, respond with a block in exactly this form:\n")
	b.WriteString("<tool_call>{\"name\": \"<tool name>\", \"arguments\": {<json arguments>}}</tool_call>\n")
	b.WriteString("You may emit more than one block in a single response. Text outside a <tool_call> block is shown to the user as-is. Available tools:\n")
	for _, s := range schemas {
		b.WriteString("- ")
		b.WriteString(s.Name)
		if s.Description != "" {
			b.WriteString(": ")
			b.WriteString(s.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
