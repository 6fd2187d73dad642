package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/civictriage/backend/internal/apperrors"
)

// DecodeJSONObject decodes content, which must hold exactly one JSON object,
// into v. A surrounding markdown code fence is tolerated. Every other shape
// fails with ErrInvalidModelOutput.
func DecodeJSONObject(content string, v interface{}) error {
	body := stripFence(strings.TrimSpace(content))
	if body == "" {
		return apperrors.InvalidOutput("empty response")
	}
	if body[0] != '{' {
		return apperrors.InvalidOutput("response is not a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return apperrors.InvalidOutput("decode: %v", err)
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return apperrors.InvalidOutput("trailing data after JSON object")
	}
	return nil
}

// IsJSONObject reports whether content is exactly one JSON object.
func IsJSONObject(content string) bool {
	var obj map[string]json.RawMessage
	return DecodeJSONObject(content, &obj) == nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// ensureJSON enforces the jsonMode contract on raw provider output.
func ensureJSON(content string) (string, error) {
	body := stripFence(strings.TrimSpace(content))
	if !IsJSONObject(body) {
		return "", apperrors.InvalidOutput("expected a single JSON object, got %q", truncate(content, 200))
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return body, nil
	}
	return buf.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
