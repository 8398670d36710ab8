package llm

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// NotFoundAnswer is what the model is told to say when the context does not
// contain the answer.
const NotFoundAnswer = "I could not find the answer in the provided documents."

// DefaultPromptTemplate is the question-answering template. It is rendered
// with Go template syntax by langchaingo.
const DefaultPromptTemplate = `Based on this context:
{{.context}}

Answer this question: {{.question}}

If the answer is not found in the context, say "` + NotFoundAnswer + `"`

// Prompt renders question-answering prompts from retrieved chunk texts.
type Prompt struct {
	template prompts.PromptTemplate
}

func NewPrompt(template string) *Prompt {
	if template == "" {
		template = DefaultPromptTemplate
	}
	return &Prompt{
		template: prompts.NewPromptTemplate(template, []string{"context", "question"}),
	}
}

// Format joins the context passages with blank lines and fills the template.
func (p *Prompt) Format(passages []string, question string) (string, error) {
	out, err := p.template.Format(map[string]any{
		"context":  strings.Join(passages, "\n\n"),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}
