package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPromptTextAcceptsKnownShapes(t *testing.T) {
	cases := map[string]string{
		`"a cat in space"`:                       "a cat in space",
		`{"prompt":"a cat in space"}`:            "a cat in space",
		`{"prompt":{"prompt":"a cat in space"}}`: "a cat in space",
		`  "padded"  `:                           "padded",
		`""`:                                     "",
	}
	for raw, want := range cases {
		got, err := ParsePrompt([]byte(raw))
		if err != nil {
			t.Fatalf("ParsePrompt(%s) returned error: %v", raw, err)
		}
		if got.String() != want {
			t.Errorf("ParsePrompt(%s) = %q, want %q", raw, got, want)
		}
	}
}

func TestPromptTextRejectsOtherShapes(t *testing.T) {
	for _, raw := range []string{
		`42`,
		`null`,
		`["a"]`,
		`{"text":"a"}`,
		`{"prompt":7}`,
		`{"prompt":{"prompt":{"prompt":"too deep"}}}`,
	} {
		_, err := ParsePrompt([]byte(raw))
		if code, ok := CodeOf(err); !ok || code != CodeInvalidPrompt {
			t.Errorf("ParsePrompt(%s) error = %v, want %s", raw, err, CodeInvalidPrompt)
		}
	}
}

func TestPromptTextInsideRequestBody(t *testing.T) {
	var req struct {
		Token  string     `json:"token"`
		Prompt PromptText `json:"prompt"`
	}
	body := `{"token":"AB23","prompt":{"prompt":"  neon koi  "}}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Prompt.Trimmed() != "neon koi" {
		t.Fatalf("Trimmed() = %q", req.Prompt.Trimmed())
	}
}

func TestPromptLengthCountsCharacters(t *testing.T) {
	wide := strings.Repeat("猫", 400)
	raw, _ := json.Marshal(wide)
	got, err := ParsePrompt(raw)
	if err != nil {
		t.Fatalf("400 wide characters should fit: %v", err)
	}
	if got.String() != wide {
		t.Fatalf("prompt changed while parsing")
	}

	tooLong, _ := json.Marshal(strings.Repeat("🐱", MaxPromptLength+1))
	if _, err := ParsePrompt(tooLong); err != ErrPromptTooLong {
		t.Fatalf("err = %v, want ErrPromptTooLong", err)
	}
	if err := CheckPromptLength(strings.Repeat("a", MaxPromptLength)); err != nil {
		t.Fatalf("prompt at the limit rejected: %v", err)
	}
}
