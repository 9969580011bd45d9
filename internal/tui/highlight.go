package tui

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	wordRe     = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)
	sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?。！？]+[.!?。！？])`)
)

// highlightBestSentence renders text with the sentence sharing the most
// tokens with query emphasized. Text without sentence punctuation is one
// sentence.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	} else if tail := strings.TrimSpace(text[lastMatchEnd(text):]); tail != "" {
		sentences = append(sentences, tail)
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return joinSentences(sentences)
	}
	best := bestSentence(sentences, qTokens)
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == best {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return joinSentences(sentences)
}

func bestSentence(sentences []string, qTokens map[string]struct{}) int {
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return bestIdx
}

func lastMatchEnd(text string) int {
	locs := sentenceRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return 0
	}
	return locs[len(locs)-1][1]
}

func joinSentences(sentences []string) string {
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

// tokens lowercases s and splits it into words. Han characters count as one
// token each since they are not space separated.
func tokens(s string) []string {
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		var word []rune
		for _, r := range w {
			if unicode.Is(unicode.Han, r) {
				if len(word) > 0 {
					out = append(out, string(word))
					word = word[:0]
				}
				out = append(out, string(r))
				continue
			}
			word = append(word, r)
		}
		if len(word) > 0 {
			out = append(out, string(word))
		}
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	toks := tokens(s)
	m := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range tokens(sentence) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
