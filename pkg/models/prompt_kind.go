package models

import "strings"

// PromptKindTag discriminates the prompt catalog. The composer matches on it
// exhaustively; KindUnknown carries the unrecognized raw string and falls
// back by role.
type PromptKindTag uint8

const (
	KindUnknown PromptKindTag = iota
	KindOpening
	KindConstructive
	KindCrossExamQuestion
	KindCrossExamResponse
	KindRebuttal
	KindClosing
	KindIntroduction
	KindSynthesis
	KindResumption
)

// PromptKind is the tagged prompt-catalog variant. Constructive optionally
// carries a theme; Unknown carries the raw string it was parsed from.
type PromptKind struct {
	Tag   PromptKindTag `json:"tag"`
	Theme string        `json:"theme,omitempty"`
	Raw   string        `json:"raw,omitempty"`
}

func OpeningKind() PromptKind           { return PromptKind{Tag: KindOpening} }
func ConstructiveKind(theme string) PromptKind {
	return PromptKind{Tag: KindConstructive, Theme: theme}
}
func CrossExamQuestionKind() PromptKind { return PromptKind{Tag: KindCrossExamQuestion} }
func CrossExamResponseKind() PromptKind { return PromptKind{Tag: KindCrossExamResponse} }
func RebuttalKind() PromptKind          { return PromptKind{Tag: KindRebuttal} }
func ClosingKind() PromptKind           { return PromptKind{Tag: KindClosing} }
func IntroductionKind() PromptKind      { return PromptKind{Tag: KindIntroduction} }
func SynthesisKind() PromptKind         { return PromptKind{Tag: KindSynthesis} }
func ResumptionKind() PromptKind        { return PromptKind{Tag: KindResumption} }
func UnknownKind(raw string) PromptKind { return PromptKind{Tag: KindUnknown, Raw: raw} }

// ParsePromptKind maps a wire string onto the catalog. "constructive:theme"
// carries an optional theme. Unrecognized strings become Unknown(raw), never
// an error — the composer decides the fallback.
func ParsePromptKind(s string) PromptKind {
	name, theme, _ := strings.Cut(s, ":")
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "opening", "opening_statement":
		return OpeningKind()
	case "constructive":
		return ConstructiveKind(theme)
	case "crossexam_question", "cross_exam_question", "question":
		return CrossExamQuestionKind()
	case "crossexam_response", "cross_exam_response", "response":
		return CrossExamResponseKind()
	case "rebuttal":
		return RebuttalKind()
	case "closing", "closing_statement":
		return ClosingKind()
	case "introduction":
		return IntroductionKind()
	case "synthesis":
		return SynthesisKind()
	case "resumption":
		return ResumptionKind()
	default:
		return UnknownKind(s)
	}
}

// String returns the canonical wire name. Unknown kinds echo their raw
// string so turn ids remain stable for unrecognized specs.
func (k PromptKind) String() string {
	switch k.Tag {
	case KindOpening:
		return "opening"
	case KindConstructive:
		return "constructive"
	case KindCrossExamQuestion:
		return "crossexam_question"
	case KindCrossExamResponse:
		return "crossexam_response"
	case KindRebuttal:
		return "rebuttal"
	case KindClosing:
		return "closing"
	case KindIntroduction:
		return "introduction"
	case KindSynthesis:
		return "synthesis"
	case KindResumption:
		return "resumption"
	default:
		if k.Raw != "" {
			return k.Raw
		}
		return "unknown"
	}
}

// MarshalText encodes the kind as its wire name (plus ":theme" for themed
// constructives) so phase plans round-trip through JSON configs.
func (k PromptKind) MarshalText() ([]byte, error) {
	if k.Tag == KindConstructive && k.Theme != "" {
		return []byte("constructive:" + k.Theme), nil
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses the wire name; unrecognized input becomes Unknown.
func (k *PromptKind) UnmarshalText(text []byte) error {
	*k = ParsePromptKind(string(text))
	return nil
}
