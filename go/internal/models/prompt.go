package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// PromptText accepts the prompt shapes clients send: a bare string,
// {"prompt": "..."} or {"prompt": {"prompt": "..."}}. Anything else is
// rejected with ErrInvalidPrompt.
type PromptText string

func (p *PromptText) UnmarshalJSON(data []byte) error {
	text, err := decodePrompt(data, 0)
	if err != nil {
		return err
	}
	*p = PromptText(text)
	return nil
}

// String returns the prompt text.
func (p PromptText) String() string { return string(p) }

// Trimmed returns the prompt without surrounding whitespace.
func (p PromptText) Trimmed() string { return strings.TrimSpace(string(p)) }

// ParsePrompt normalizes a raw JSON prompt payload.
func ParsePrompt(data []byte) (PromptText, error) {
	var p PromptText
	if err := p.UnmarshalJSON(data); err != nil {
		return "", err
	}
	return p, nil
}

// CheckPromptLength rejects prompts longer than MaxPromptLength characters.
func CheckPromptLength(s string) error {
	if utf8.RuneCountInString(s) > MaxPromptLength {
		return ErrPromptTooLong
	}
	return nil
}

func decodePrompt(data []byte, depth int) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", ErrInvalidPrompt
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", ErrInvalidPrompt
		}
		if err := CheckPromptLength(s); err != nil {
			return "", err
		}
		return s, nil
	case '{':
		// {"prompt":{"prompt":...}} is the deepest accepted shape.
		if depth > 1 {
			return "", ErrInvalidPrompt
		}
		var wrapper struct {
			Prompt json.RawMessage `json:"prompt"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Prompt == nil {
			return "", ErrInvalidPrompt
		}
		return decodePrompt(wrapper.Prompt, depth+1)
	}
	return "", ErrInvalidPrompt
}
