package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

type sendGridErrorBody struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func sendGridErrorMessage(body string, status int) string {
	var parsed sendGridErrorBody
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return strings.Join(msgs, "; ")
	}
	return fmt.Sprintf("sendgrid returned status %d", status)
}
