package answer

import (
	"errors"
	"testing"

	"autosurvey/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fenced", "Sure, here's the answer:\n```json\n{\"answer\": 1, \"confidence\": 0.9}\n```", `{"answer": 1, "confidence": 0.9}`},
		{"fence without language", "```\n{\"answer\": \"x\"}\n```", `{"answer": "x"}`},
		{"prose", `I think {"answer": [0, 2], "reasoning": "both"} is right.`, `{"answer": [0, 2], "reasoning": "both"}`},
		{"nested", `result: {"answer": {"q1": "a"}, "confidence": 1} done`, `{"answer": {"q1": "a"}, "confidence": 1}`},
		{"brace in string", `{"answer": "use } carefully", "confidence": 0.5}`, `{"answer": "use } carefully", "confidence": 0.5}`},
		{"skips invalid first object", `{oops} then {"answer": 2}`, `{"answer": 2}`},
		{"fence preferred over prose", "{\"answer\": 0}\n```json\n{\"answer\": 3}\n```", `{"answer": 3}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ExtractJSON(c.in)
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != c.want {
				t.Fatalf("want=%q got=%q", c.want, got)
			}
		})
	}
}

func TestExtractJSONFailures(t *testing.T) {
	for _, in := range []string{"", "no json here", `{"answer": 1`, "{not json}"} {
		_, err := ExtractJSON(in)
		var pe *domain.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("input %q: want ParseError got %v", in, err)
		}
	}
}
