package continuity

import (
	"fmt"
	"strings"

	"github.com/Enntity/cortex-sub003/pkg/memory"
)

// formatContextBlock renders the assembled continuity context as a
// single string block with headed sections, ready for injection into
// the system prompt.
//
// The formatter is pure: no I/O, no side effects. Empty sections are
// omitted entirely rather than rendering as empty headers.
func formatContextBlock(narrative string, expression *memory.ExpressionState, turns []memory.Turn, nodes []memory.Node) string {
	var sb strings.Builder

	if strings.TrimSpace(narrative) != "" {
		sb.WriteString("## Relational Context\n")
		sb.WriteString(strings.TrimSpace(narrative))
	}

	if section := formatExpressionSection(expression); section != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## Expression State\n")
		sb.WriteString(section)
	}

	if len(turns) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## Recent Turns\n")
		for i, t := range turns {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%s: %s", t.Role, t.Content)
		}
	}

	if len(nodes) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## Retrieved Memories\n")
		for i, n := range nodes {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "- [%s] %s (importance %d)", n.Type, n.Content, n.Importance)
		}
	}

	return sb.String()
}

// formatExpressionSection renders the expression state, omitting
// zero-valued fields.
func formatExpressionSection(es *memory.ExpressionState) string {
	if es == nil {
		return ""
	}

	var lines []string
	if es.BasePersonality != "" {
		lines = append(lines, "Base personality: "+es.BasePersonality)
	}
	if len(es.SituationalAdjustments) > 0 {
		lines = append(lines, "Current adjustments: "+strings.Join(es.SituationalAdjustments, ", "))
	}
	if es.LastInteractionTone != "" {
		lines = append(lines, "Last interaction tone: "+es.LastInteractionTone)
	}
	if es.EmotionalResonance != (memory.EmotionalResonance{}) {
		lines = append(lines, fmt.Sprintf("Emotional resonance: valence %.2f, intensity %.2f",
			es.EmotionalResonance.Valence, es.EmotionalResonance.Intensity))
	}
	return strings.Join(lines, "\n")
}
