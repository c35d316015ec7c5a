package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstJSON_JSONFence(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"summary\": \"do things\", \"tasks\": []}\n```\nDone."

	raw, ok := FirstJSON(text)
	require.True(t, ok)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "do things", out["summary"])
}

func TestFirstJSON_BareFence(t *testing.T) {
	text := "Result:\n```\n[1, 2, 3]\n```\n"

	raw, ok := FirstJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, "[1,2,3]", string(raw))
}

func TestFirstJSON_PrefersJSONFenceOverEarlierRawJSON(t *testing.T) {
	text := `Some noise {"wrong": true} before the real output.
` + "```json\n{\"right\": true}\n```"

	raw, ok := FirstJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"right": true}`, string(raw))
}

func TestFirstJSON_BalancedObject(t *testing.T) {
	text := `The plan is {"tasks": [{"id": "t1"}]} as discussed.`

	raw, ok := FirstJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"tasks": [{"id": "t1"}]}`, string(raw))
}

func TestFirstJSON_BalancedArray(t *testing.T) {
	text := `Branches: ["main", "oi/t1-fix"] end`

	raw, ok := FirstJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `["main", "oi/t1-fix"]`, string(raw))
}

func TestFirstJSON_BracesInsideStrings(t *testing.T) {
	text := `{"code": "if (x) { return; }", "n": 1}`

	raw, ok := FirstJSON(text)
	require.True(t, ok)

	var out struct {
		Code string `json:"code"`
		N    int    `json:"n"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "if (x) { return; }", out.Code)
	assert.Equal(t, 1, out.N)
}

func TestFirstJSON_EscapedQuotesInsideStrings(t *testing.T) {
	text := `{"msg": "she said \"hi {there}\"", "done": true}`

	raw, ok := FirstJSON(text)
	require.True(t, ok)

	var out struct {
		Msg string `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, `she said "hi {there}"`, out.Msg)
}

func TestFirstJSON_NoResult(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "prose only", text: "no structured output here"},
		{name: "unbalanced braces", text: "{\"oops\": "},
		{name: "fence with invalid json", text: "```json\n{not json}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := FirstJSON(tt.text)
			assert.False(t, ok)
		})
	}
}

func TestFirstJSON_RoundTrip(t *testing.T) {
	value := map[string]any{
		"summary": "round trip",
		"tasks":   []any{map[string]any{"id": "t1", "depends_on": []any{}}},
	}
	encoded, err := json.Marshal(value)
	require.NoError(t, err)

	text := "prefix\n```json\n" + string(encoded) + "\n```\nsuffix"

	raw, ok := FirstJSON(text)
	require.True(t, ok)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, value["summary"], decoded["summary"])
}

func TestUnmarshal(t *testing.T) {
	var out struct {
		ID string `json:"id"`
	}
	assert.True(t, Unmarshal(`result: {"id": "t9"}`, &out))
	assert.Equal(t, "t9", out.ID)

	assert.False(t, Unmarshal("nothing here", &out))
}
