package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskvane/aegis/llm"
)

func TestExtract_SingleCall(t *testing.T) {
	content := `Let me check that for you.<tool_call>{"name": "current_time", "arguments": {}}</tool_call>`
	calls, text := Extract(content)
	require.Len(t, calls, 1)
	assert.Equal(t, "current_time", calls[0].Name)
	assert.Equal(t, "Let me check that for you.", text)
}

func TestExtract_MultipleCallsPreserveSurroundingText(t *testing.T) {
	content := "First <tool_call>{\"name\": \"a\", \"arguments\": {\"x\": 1}}</tool_call> then <tool_call>{\"name\": \"b\", \"arguments\": {}}</tool_call> done"
	calls, text := Extract(content)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, "b", calls[1].Name)
	assert.Equal(t, "First  then  done", text)
}

func TestExtract_MalformedJSONTreatedAsText(t *testing.T) {
	content := `<tool_call>{not valid json}</tool_call>`
	calls, text := Extract(content)
	assert.Empty(t, calls)
	assert.Equal(t, content, text)
}

func TestExtract_MissingNameTreatedAsText(t *testing.T) {
	content := `<tool_call>{"arguments": {}}</tool_call>`
	calls, text := Extract(content)
	assert.Empty(t, calls)
	assert.Equal(t, content, text)
}

func TestExtract_UnterminatedBlockTreatedAsText(t *testing.T) {
	content := `some text <tool_call>{"name": "a"`
	calls, text := Extract(content)
	assert.Empty(t, calls)
	assert.Equal(t, content, text)
}

func TestExtract_NoBlocksReturnsTextUnchanged(t *testing.T) {
	calls, text := Extract("just a plain reply")
	assert.Empty(t, calls)
	assert.Equal(t, "just a plain reply", text)
}

func TestBuildInstructions_EmptySchemasYieldsEmptyString(t *testing.T) {
	assert.Equal(t, "", BuildInstructions(nil))
}

func TestBuildInstructions_ListsToolNames(t *testing.T) {
	out := BuildInstructions([]llm.ToolSchema{{Name: "current_time", Description: "returns time"}})
	assert.Contains(t, out, "current_time")
	assert.Contains(t, out, "returns time")
	assert.Contains(t, out, "<tool_call>")
}
