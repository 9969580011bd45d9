package answer

import (
	"fmt"
	"strings"

	"autosurvey/internal/domain"
)

const baseSystemPrompt = `You are a careful survey and exam answering assistant.
Answer the question using the reference material when it is relevant, otherwise your own knowledge.
Reply with a single JSON object and nothing else:
{"answer": <value>, "confidence": <number between 0 and 1>, "reasoning": "<one or two sentences>"}`

// formatHint describes the answer value expected for each question type.
func formatHint(t domain.QuestionType) string {
	switch t {
	case domain.FillBlank:
		return `"answer" is the text to write in the blank.`
	case domain.Essay:
		return `"answer" is the full written response as one string.`
	case domain.CascadeDropdown:
		return `"answer" is the selection path from the first level to the last, joined with "/", e.g. "Guangdong/Shenzhen/Nanshan".`
	case domain.SingleChoice, domain.Dropdown:
		return `"answer" is the 0-based index of the chosen option as an integer.`
	case domain.TrueFalse:
		return `"answer" is the 0-based index of the option that states the correct judgement, as an integer.`
	case domain.MultipleChoice:
		return `"answer" is a JSON array of the 0-based indices of every chosen option, without duplicates.`
	case domain.MatrixFill, domain.MultipleEssay:
		return `"answer" is a JSON object mapping each sub-field key to the text for that cell.`
	case domain.GapFill:
		return `"answer" is a JSON object mapping each blank key to its text. If no keys are listed, use a JSON array of the blank values in order.`
	}
	return ""
}

func systemPrompt(custom string, t domain.QuestionType) string {
	base := baseSystemPrompt
	if custom != "" {
		base = custom
	}
	return base + "\n" + formatHint(t)
}

// userPrompt renders the question, its options or sub-fields, and up to
// topK reference passages with their similarity scores.
func userPrompt(q domain.Question, refs []domain.Reference, topK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question type: %s\n", q.Type)
	if q.Required {
		b.WriteString("This question is required.\n")
	}
	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(q.Content))
	if len(q.Options) > 0 {
		b.WriteString("\nOptions:\n")
		for i, o := range q.Options {
			fmt.Fprintf(&b, "%d. %s\n", i, o)
		}
	}
	if keys := q.SubFieldKeys(); len(keys) > 0 {
		b.WriteString("\nSub-fields (key: label):\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, q.SubFields[k])
		}
	}
	if topK > 0 && len(refs) > topK {
		refs = refs[:topK]
	}
	if len(refs) > 0 {
		b.WriteString("\nReference material:\n")
		for i, r := range refs {
			fmt.Fprintf(&b, "[%d] %s #%d (similarity %.3f)\n%s\n", i+1, r.DocumentTitle, r.ChunkIndex, r.Similarity, strings.TrimSpace(r.Content))
		}
	}
	return b.String()
}

func correctionPrompt(original, previous string, cause error) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\nYour previous reply could not be used:\n")
	b.WriteString(truncate(strings.TrimSpace(previous), 400))
	fmt.Fprintf(&b, "\nProblem: %v\n", cause)
	b.WriteString("Reply again with only the JSON object in the required format.")
	return b.String()
}
