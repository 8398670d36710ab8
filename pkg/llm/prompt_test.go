package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/repoqa/pkg/llm"
)

func TestPromptFormat(t *testing.T) {
	p := llm.NewPrompt("")

	out, err := p.Format([]string{"The quick brown fox.", "Jumps over the dog."}, "What does the fox do?")
	require.NoError(t, err)

	expected := "Based on this context:\n" +
		"The quick brown fox.\n\nJumps over the dog.\n\n" +
		"Answer this question: What does the fox do?\n\n" +
		"If the answer is not found in the context, say \"I could not find the answer in the provided documents.\""
	assert.Equal(t, expected, out)
}

func TestPromptKeepsBracesInValues(t *testing.T) {
	p := llm.NewPrompt("")

	out, err := p.Format([]string{"func f() { return {{.x}} }"}, "what is {{.context}}?")
	require.NoError(t, err)
	assert.Contains(t, out, "func f() { return {{.x}} }")
	assert.Contains(t, out, "what is {{.context}}?")
}

func TestCustomPrompt(t *testing.T) {
	p := llm.NewPrompt("Q: {{.question}}\nC: {{.context}}")

	out, err := p.Format([]string{"one", "two"}, "why?")
	require.NoError(t, err)
	assert.Equal(t, "Q: why?\nC: one\n\ntwo", out)
}
