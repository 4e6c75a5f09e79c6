package analyst

import "strings"

// ParseAction extracts the tool name and input from one raw planner step.
//
// The step must hold a thought, an action line and an action-input line.
// Tool name and input are the text after the last ':' on their lines, trimmed.
// When tagged lines are present they are located by tag, otherwise exactly
// three positional lines are required.
func ParseAction(raw string, tools ToolSet) (Action, error) {
	lines := nonBlankLines(raw)
	if len(lines) < 3 {
		return Action{}, &MalformedActionError{Raw: raw, Reason: "expected thought, action and action input lines"}
	}

	actionIdx := -1
	for i, line := range lines {
		if hasTag(line, MarkerAction) || hasTag(line, MarkerFinalAction) {
			actionIdx = i
			break
		}
	}

	var thought, actionLine, inputLine string
	switch {
	case actionIdx >= 0:
		if actionIdx+1 >= len(lines) {
			return Action{}, &MalformedActionError{Raw: raw, Reason: "missing action input line"}
		}
		next := lines[actionIdx+1]
		if !hasTag(next, MarkerActionInput) && !hasTag(next, MarkerFinalAnswer) {
			return Action{}, &MalformedActionError{Raw: raw, Reason: "missing action input line"}
		}
		thought = strings.Join(lines[:actionIdx], "\n")
		actionLine, inputLine = lines[actionIdx], next
	case len(lines) == 3:
		thought, actionLine, inputLine = lines[0], lines[1], lines[2]
	default:
		return Action{}, &MalformedActionError{Raw: raw, Reason: "no action line"}
	}

	name := afterLastColon(actionLine)
	return Action{
		Thought:  strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(thought), MarkerThought)),
		Name:     name,
		Input:    afterLastColon(inputLine),
		Tool:     tools.Resolve(name),
		Terminal: IsTerminal(raw),
		Raw:      raw,
	}, nil
}

// TerminalAction recovers a final answer from a step that has the final
// answer marker but no action line. The action has no name, so it is
// presented as text.
func TerminalAction(raw string) (Action, bool) {
	if !IsTerminal(raw) {
		return Action{}, false
	}
	lines := nonBlankLines(raw)
	for i, line := range lines {
		if !hasTag(line, MarkerFinalAnswer) {
			continue
		}
		thought := strings.Join(lines[:i], "\n")
		return Action{
			Thought:  strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(thought), MarkerThought)),
			Input:    strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), MarkerFinalAnswer)),
			Tool:     ToolUnrecognized,
			Terminal: true,
			Raw:      raw,
		}, true
	}
	return Action{}, false
}

// IsTerminal reports whether a raw step carries the final answer marker.
func IsTerminal(raw string) bool {
	return strings.Contains(raw, TerminalMarker)
}

func nonBlankLines(raw string) []string {
	parts := strings.Split(raw, "\n")
	lines := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

func hasTag(line, tag string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), tag)
}

func afterLastColon(line string) string {
	if i := strings.LastIndex(line, ":"); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return strings.TrimSpace(line)
}
