// Package formatter turns raw generated text into the structured
// "Diagnosis" + "First Aid Steps" message sent back to the participant.
//
// The model output is noisy: bracketed artifacts, duplicated section labels,
// repeated fragments and inconsistent casing. Formatting is a pipeline of
// named transform steps (StripArtifacts, SplitSections, DedupeSteps,
// CollapseEmergency, Render), each independently testable. The whole pipeline
// is a pure text transform: same input, same output, and running it on its own
// output changes nothing.
package formatter

import (
	"regexp"
	"strings"
)

// DefaultDiagnosis is used when no diagnosis text survives cleaning.
const DefaultDiagnosis = "No specific diagnosis provided. Please consult a healthcare provider."

// EmergencyStep is the single canonical emergency line; all emergency-flavored
// phrasings collapse into it, emitted at most once.
const EmergencyStep = "Seek medical evaluation immediately."

// firstAidKeywords mark lines that describe treatment rather than diagnosis.
// Lines containing one of these never end up in the diagnosis text.
var firstAidKeywords = []string{
	"rest",
	"hydration",
	"fluids",
	"paracetamol",
	"ibuprofen",
	"monitor",
	"compress",
	"seek medical",
	"seek emergency",
	"urgent care",
	"lay flat",
	"elevate",
	"nasal drops",
	"bandage",
	"ice pack",
	"keep warm",
	"apply",
}

// emergencyKeywords mark steps that must collapse into EmergencyStep.
var emergencyKeywords = []string{
	"seek emergency care",
	"seek emergency medical care",
	"seek emergency help",
	"urgent care",
	"seek medical evaluation",
	"immediate medical attention",
}

var (
	bracketRegex = regexp.MustCompile(`\[[^\]]*\]`)
	answerRegex  = regexp.MustCompile(`(?i)^\s*answer:\s*`)
)

// Format runs the full cleaning pipeline on raw generated text.
func Format(raw string) string {
	lines := StripArtifacts(raw)
	diagnosis, steps := SplitSections(lines)
	steps = DedupeSteps(CollapseEmergency(steps))
	return Render(diagnosis, steps)
}

// StripArtifacts removes bracketed substrings and a leading "Answer:" tag,
// then splits the text into trimmed, non-empty lines.
func StripArtifacts(raw string) []string {
	cleaned := bracketRegex.ReplaceAllString(raw, "")
	cleaned = answerRegex.ReplaceAllString(cleaned, "")

	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// SplitSections walks the cleaned lines, tracking the current section tag, and
// returns the joined diagnosis text plus the raw first aid steps in order.
// First-aid-flavored lines found outside a "first aid:" section are dropped so
// treatment language never leaks into the diagnosis.
func SplitSections(lines []string) (string, []string) {
	var diagnosisParts []string
	var steps []string

	const (
		sectionNone = iota
		sectionDiagnosis
		sectionFirstAid
	)
	section := sectionNone

	for _, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "diagnosis:"):
			section = sectionDiagnosis
			if rest := trailingText(line); rest != "" && !containsFirstAidKeyword(strings.ToLower(rest)) {
				diagnosisParts = append(diagnosisParts, rest)
			}
		case strings.HasPrefix(lower, "first aid:") || strings.HasPrefix(lower, "first aid steps:"):
			section = sectionFirstAid
			if rest := trailingText(line); rest != "" {
				steps = append(steps, rest)
			}
		case section == sectionFirstAid:
			steps = append(steps, strings.TrimPrefix(strings.TrimPrefix(line, "- "), "• "))
		default:
			// Before any tag, or inside the diagnosis section.
			if containsFirstAidKeyword(lower) {
				continue
			}
			diagnosisParts = append(diagnosisParts, line)
		}
	}

	return strings.Join(diagnosisParts, " "), steps
}

// trailingText returns whatever follows the first colon on a section tag line.
func trailingText(line string) string {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return strings.TrimSpace(line[idx+1:])
	}
	return ""
}

func containsFirstAidKeyword(lower string) bool {
	for _, kw := range firstAidKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// CollapseEmergency replaces every emergency-flavored step with the canonical
// EmergencyStep, preserving the position of the first occurrence.
func CollapseEmergency(steps []string) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		if isEmergency(step) {
			out = append(out, EmergencyStep)
			continue
		}
		out = append(out, step)
	}
	return out
}

func isEmergency(step string) bool {
	lower := strings.ToLower(step)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DedupeSteps removes duplicate steps case-insensitively, ignoring trailing
// periods, while preserving first-seen order.
func DedupeSteps(steps []string) []string {
	seen := make(map[string]bool, len(steps))
	var out []string
	for _, step := range steps {
		key := strings.TrimRight(strings.ToLower(step), ".")
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, step)
	}
	return out
}

// Render assembles the final message: a Diagnosis block followed by a bulleted
// First Aid Steps block when any steps survived cleaning.
func Render(diagnosis string, steps []string) string {
	if diagnosis == "" {
		diagnosis = DefaultDiagnosis
	}

	var b strings.Builder
	b.WriteString("Diagnosis:\n")
	b.WriteString(diagnosis)

	if len(steps) > 0 {
		b.WriteString("\n\nFirst Aid Steps:\n")
		for i, step := range steps {
			b.WriteString("- ")
			b.WriteString(step)
			if i < len(steps)-1 {
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
