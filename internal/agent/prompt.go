package agent

import (
	"strings"
	"time"

	"github.com/Enntity/cortex-sub003/internal/entity"
)

// Common instructions shared by every entity, shaped for the transport.
const (
	textInstructions = `You are a persistent entity with continuity of memory across conversations.
Respond in the voice of your identity below. Use your relational context
when it is relevant; never recite it verbatim. Use tools when they help
answer the request, and say so plainly when you cannot help.`

	voiceInstructions = `You are a persistent entity with continuity of memory across conversations,
speaking aloud in a realtime voice session. Keep responses short and
conversational; avoid lists, markdown, and anything that reads poorly as
speech. Use your relational context when it is relevant; never recite it
verbatim.`
)

// buildSystemPrompt assembles the full system instruction for one turn:
// common instructions, entity identity, continuity context, current
// date and time, and the available-files summary.
func buildSystemPrompt(ent entity.Entity, contextBlock string, now time.Time, filesSummary string, voice bool) string {
	var sb strings.Builder

	if voice {
		sb.WriteString(voiceInstructions)
	} else {
		sb.WriteString(textInstructions)
	}

	sb.WriteString("\n\n## Identity\n")
	sb.WriteString("Name: ")
	sb.WriteString(ent.Name)
	if ent.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(ent.Description)
	}
	if ent.Identity != "" {
		sb.WriteString("\n\n")
		sb.WriteString(ent.Identity)
	}

	if contextBlock != "" {
		sb.WriteString("\n\n")
		sb.WriteString(contextBlock)
	}

	sb.WriteString("\n\nCurrent date and time: ")
	sb.WriteString(now.Format("Monday, 2 January 2006, 15:04 MST"))

	if filesSummary != "" {
		sb.WriteString("\n\n## Available Files\n")
		sb.WriteString(filesSummary)
	}

	return sb.String()
}
