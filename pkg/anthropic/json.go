package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// DecodeJSON unmarshals the first JSON object in text into v. Models often
// wrap JSON in prose or a fenced block; everything outside the outermost
// braces is ignored.
func DecodeJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return eris.New("anthropic: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return eris.Wrap(err, "anthropic: decode JSON response")
	}
	return nil
}
