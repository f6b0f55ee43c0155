package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/xiaoshi/backend/internal/model/translate"
)

// ErrMalformedOutput marks model replies that do not match the translation schema.
var ErrMalformedOutput = errors.New("malformed model output")

// ParseError carries the raw reply that failed to parse.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse translation output: %v", e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrMalformedOutput, e.Err}
}

type wireExample struct {
	Sentence    *string `json:"example_sentence"`
	Translation *string `json:"example_translation"`
}

// wireResult accepts the canonical keys plus the descriptive aliases some
// models fall back to.
type wireResult struct {
	English     *string       `json:"english"`
	SourceText  *string       `json:"source_text"`
	Explain     *string       `json:"explain"`
	Explanation *string       `json:"explanation"`
	Phonetic    *string       `json:"phonetic"`
	Examples    []wireExample `json:"examples"`
}

// ParseTranslation extracts the JSON record from a model reply and checks it
// against the translation schema. It never returns a partially filled result.
func ParseTranslation(raw string) (*translate.Result, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}

	english := firstNonBlank(wire.English, wire.SourceText)
	if english == "" {
		return nil, &ParseError{Raw: raw, Err: errors.New("missing field \"english\"")}
	}
	explain := firstNonBlank(wire.Explain, wire.Explanation)
	if explain == "" {
		return nil, &ParseError{Raw: raw, Err: errors.New("missing field \"explain\"")}
	}

	result := &translate.Result{
		SourceText:  english,
		Explanation: explain,
	}
	if wire.Phonetic != nil {
		result.Phonetic = strings.TrimSpace(*wire.Phonetic)
	}

	for i, example := range wire.Examples {
		if example.Sentence == nil || example.Translation == nil {
			return nil, &ParseError{Raw: raw, Err: fmt.Errorf("example %d is incomplete", i)}
		}
		result.Examples = append(result.Examples, translate.Example{
			Sentence:    strings.TrimSpace(*example.Sentence),
			Translation: strings.TrimSpace(*example.Translation),
		})
	}

	return result, nil
}

// extractJSON 优先取 ```json 代码块，其次取最外层的花括号。
func extractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", errors.New("empty output")
	}

	if start := strings.Index(text, "```json"); start >= 0 {
		body := text[start+len("```json"):]
		if end := strings.Index(body, "```"); end >= 0 {
			return strings.TrimSpace(body[:end]), nil
		}
		return "", errors.New("unterminated json code block")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errors.New("no json object found")
	}
	return text[start : end+1], nil
}

func firstNonBlank(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if trimmed := strings.TrimSpace(*v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
