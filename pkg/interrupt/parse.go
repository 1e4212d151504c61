package interrupt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// verdict is the evaluator's JSON contract. candidate_speaker is a
// pointer because the model answers null when declining.
type verdict struct {
	ShouldInterrupt  bool    `json:"should_interrupt"`
	CandidateSpeaker *string `json:"candidate_speaker"`
	Relevance        float64 `json:"relevance"`
	Contradiction    float64 `json:"contradiction"`
	TriggerPhrase    string  `json:"trigger_phrase"`
	Reasoning        string  `json:"reasoning"`
}

var jsonFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseVerdict extracts the verdict object from a model response.
// Models wrap JSON in markdown fences or prose; strip the fences, then
// take the outermost brace pair.
func parseVerdict(raw string) (*verdict, error) {
	s := strings.TrimSpace(raw)
	if m := jsonFencePattern.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in evaluator response")
	}
	s = s[start : end+1]

	var v verdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decode evaluator verdict: %w", err)
	}

	v.Relevance = clamp01(v.Relevance)
	v.Contradiction = clamp01(v.Contradiction)
	return &v, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// clipSentences truncates text after at most max sentences, so an
// interjection that rambles past its budget still lands short.
func clipSentences(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	sentences := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Terminator runs ("?!", "...") count once, at their end.
		if i+1 < len(runes) && isTerminator(runes[i+1]) {
			continue
		}
		sentences++
		if sentences >= max {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return text
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
