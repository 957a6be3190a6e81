// ABOUTME: Parsing of the tagged tool-call protocol agents speak:
// ABOUTME: ACTION/ACTION_INPUT directives, OBSERVATION feedback, ANSWER extraction

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	actionOpen  = "<ACTION>"
	actionClose = "</ACTION>"
	inputOpen   = "<ACTION_INPUT>"
	inputClose  = "</ACTION_INPUT>"
	answerOpen  = "<ANSWER>"
	answerClose = "</ANSWER>"

	// askUserAction is the builtin action that suspends execution on a
	// human clarification. It is available to every agent, tool access
	// or not.
	askUserAction = "ask_user"
)

// parseAction extracts the tool directive from one model round. Returns
// empty action if the round contains no directive.
func parseAction(content string) (action, input string) {
	actionStart := strings.Index(content, actionOpen)
	if actionStart == -1 {
		return "", ""
	}
	actionEnd := strings.Index(content[actionStart:], actionClose)
	if actionEnd == -1 {
		return "", ""
	}
	action = strings.TrimSpace(content[actionStart+len(actionOpen) : actionStart+actionEnd])

	inputStart := strings.Index(content, inputOpen)
	if inputStart == -1 {
		return action, ""
	}
	inputEnd := strings.Index(content[inputStart:], inputClose)
	if inputEnd == -1 {
		return action, ""
	}
	input = strings.TrimSpace(content[inputStart+len(inputOpen) : inputStart+inputEnd])

	return action, input
}

// FinalAnswer returns the ANSWER block of a final round, or the whole
// trimmed content when the model skipped the tags.
func FinalAnswer(content string) string {
	if idx := strings.Index(content, answerOpen); idx != -1 {
		content = content[idx+len(answerOpen):]
		if endIdx := strings.Index(content, answerClose); endIdx != -1 {
			content = content[:endIdx]
		}
	}
	return strings.TrimSpace(content)
}

// formatObservation wraps a tool result for the next round's prompt.
func formatObservation(result string) string {
	return fmt.Sprintf("<OBSERVATION>\n%s\n</OBSERVATION>", result)
}

// parseActionArgs decodes an ACTION_INPUT payload. A payload that is not a
// JSON object is passed through under the "input" key.
func parseActionArgs(input string) map[string]any {
	if input == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return map[string]any{"input": input}
	}
	return args
}

// parseQuestion extracts the question text from an ask_user payload.
func parseQuestion(input string) string {
	args := parseActionArgs(input)
	if q, ok := args["question"].(string); ok && q != "" {
		return q
	}
	return strings.TrimSpace(input)
}
