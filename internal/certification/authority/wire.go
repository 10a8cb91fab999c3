package authority

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"certflow/internal/certification/models"
	pstrings "certflow/pkg/platform/strings"
)

// Authority message lists are stored with the record and relayed to clients.
const (
	maxMessages      = 50
	maxMessageLength = 500
)

// submitBody is the authority's submission answer. Unknown fields are ignored;
// the raw body is kept separately.
type submitBody struct {
	Success          *bool           `json:"success"`
	ValidationStatus string          `json:"validationStatus"`
	ErrorDetails     json.RawMessage `json:"errorDetails"`
	Message          string          `json:"message"`
}

type statusBody struct {
	ValidationStatus string          `json:"validationStatus"`
	Status           string          `json:"status"`
	Messages         json.RawMessage `json:"messages"`
	ErrorDetails     json.RawMessage `json:"errorDetails"`
	Message          string          `json:"message"`
}

func parseSubmitResponse(body []byte) (submitBody, error) {
	var sb submitBody
	if len(body) == 0 {
		return sb, nil
	}
	if err := json.Unmarshal(body, &sb); err != nil {
		return sb, fmt.Errorf("decode submit response: %w", err)
	}
	return sb, nil
}

func (sb submitBody) messages() []string {
	msgs := flattenMessages(sb.ErrorDetails)
	if len(msgs) == 0 && sb.Message != "" {
		msgs = []string{sb.Message}
	}
	return pstrings.CleanList(msgs, maxMessages, maxMessageLength)
}

func parseStatusResponse(body []byte) (models.ValidationStatus, []string, error) {
	var sb statusBody
	if err := json.Unmarshal(body, &sb); err != nil {
		return "", nil, fmt.Errorf("decode status response: %w", err)
	}
	raw := sb.ValidationStatus
	if raw == "" {
		raw = sb.Status
	}
	status := models.ValidationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.IsValid() {
		return "", nil, fmt.Errorf("unrecognized validation status %q", raw)
	}
	msgs := flattenMessages(sb.Messages)
	if len(msgs) == 0 {
		msgs = flattenMessages(sb.ErrorDetails)
	}
	if len(msgs) == 0 && sb.Message != "" {
		msgs = []string{sb.Message}
	}
	return status, pstrings.CleanList(msgs, maxMessages, maxMessageLength), nil
}

// flattenMessages accepts the shapes the authority uses for error lists: a
// string, a list of strings, or an object of field -> string | []string.
func flattenMessages(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var byField map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byField); err == nil {
		keys := make([]string, 0, len(byField))
		for k := range byField {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			for _, m := range flattenMessages(byField[k]) {
				out = append(out, k+": "+m)
			}
		}
		return out
	}
	return []string{string(raw)}
}

// errorMessages extracts a message list from an error body, tolerating
// non-JSON bodies.
func errorMessages(body []byte) []string {
	var sb submitBody
	if err := json.Unmarshal(body, &sb); err == nil {
		return sb.messages()
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 512 {
		return []string{text}
	}
	return nil
}
