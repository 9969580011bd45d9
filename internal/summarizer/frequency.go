package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// FrequencySummarizer builds extractive digests of knowledge documents by
// ranking sentences on the frequency of their content words.
type FrequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`),
		sentencePattern: regexp.MustCompile(`(?m)(?U)([^.!?。！？\n]+[.!?。！？\n])`),
		stopwords:       defaultStopwords(),
	}
}

// Summarize returns up to maxSentences of the highest ranked sentences in
// their original order. Text without sentence punctuation is returned
// trimmed.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	sentences := s.sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			if _, ok := s.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		sum := 0.0
		for _, tok := range toks {
			sum += freq[tok]
		}
		// long sentences would win on raw sums
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, sum}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}
	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

// Digest summarizes several documents into one short overview, giving each
// titled document one line.
func (s *FrequencySummarizer) Digest(titles, contents []string, perDocument int) string {
	var lines []string
	for i, content := range contents {
		sum := s.Summarize(content, perDocument)
		if sum == "" {
			continue
		}
		if i < len(titles) && titles[i] != "" {
			sum = titles[i] + ": " + sum
		}
		lines = append(lines, sum)
	}
	return strings.Join(lines, "\n")
}

func (s *FrequencySummarizer) sentences(text string) []string {
	matches := s.sentencePattern.FindAllStringIndex(text, -1)
	var out []string
	end := 0
	for _, m := range matches {
		if sent := strings.TrimSpace(text[m[0]:m[1]]); sent != "" {
			out = append(out, sent)
		}
		end = m[1]
	}
	if tail := strings.TrimSpace(text[end:]); tail != "" && len(matches) > 0 {
		out = append(out, tail)
	}
	return out
}

// tokens lowercases text and splits it into words, with each Han character
// standing alone.
func (s *FrequencySummarizer) tokens(text string) []string {
	var out []string
	for _, w := range s.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		start := -1
		for i, r := range w {
			if unicode.Is(unicode.Han, r) {
				if start >= 0 {
					out = append(out, w[start:i])
					start = -1
				}
				out = append(out, string(r))
				continue
			}
			if start < 0 {
				start = i
			}
		}
		if start >= 0 {
			out = append(out, w[start:])
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"的", "了", "是", "在", "和", "与", "及", "或", "也", "都", "就", "而", "我", "你", "他", "她", "它", "们", "这", "那", "有", "为", "以", "之", "其", "被", "把", "对", "从", "到", "上", "下", "中", "个",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
