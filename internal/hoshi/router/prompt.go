package router

import (
	"fmt"
	"strings"

	"github.com/bdobrica/Hoshi/internal/hoshi/conversation"
	"github.com/bdobrica/Hoshi/internal/hoshi/llm"
	"github.com/bdobrica/Hoshi/internal/hoshi/memory"
)

const simpleInstruction = "Reply to the last user message. Be concise and helpful, and answer in the language the user wrote in."

const flowPersona = `You are Hoshi, a personal assistant that lives in the user's chat app.
In this mode you take on multi-step work: planning, analysis, comparisons and drafting.
Reason through the problem before answering, then give a clear, structured reply.`

const flowTaskFrame = "Think through this carefully before answering. Break the task into steps, consider alternatives, then give your final answer.\n\nTask:\n"

// buildSimplePrompt assembles the single-prompt form. Assembly order:
//
//  1. long-term memory block
//  2. recent history as User:/Assistant: lines
//  3. the current message
//  4. instruction suffix
func buildSimplePrompt(longTerm string, history []conversation.Message, text string) string {
	var sb strings.Builder

	// ─── 1. Long-term memory ─────────────────────────────────────────────────
	if mem := strings.TrimSpace(longTerm); mem != "" {
		sb.WriteString("# What you know about the user\n")
		sb.WriteString(mem)
		sb.WriteString("\n\n")
	}

	// ─── 2. History ───────────────────────────────────────────────────────────
	if len(history) > 0 {
		sb.WriteString("# Recent conversation\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", speaker(m.Role), m.Content)
		}
		sb.WriteString("\n")
	}

	// ─── 3 + 4. Current message and instruction ──────────────────────────────
	fmt.Fprintf(&sb, "User: %s\n\n", text)
	sb.WriteString(simpleInstruction)
	return sb.String()
}

// buildFlowSystemPrompt assembles the flow system prompt: persona, injected
// memory, then the persistence tag contract.
func buildFlowSystemPrompt(longTerm string) string {
	var sb strings.Builder
	sb.WriteString(flowPersona)

	sb.WriteString("\n\n## What you know about the user\n")
	if mem := strings.TrimSpace(longTerm); mem != "" {
		sb.WriteString(mem)
	} else {
		sb.WriteString("Nothing yet.")
	}

	sb.WriteString("\n\n## Persisting memory\n")
	sb.WriteString(memory.DirectiveInstructions)
	return sb.String()
}

// buildFlowMessages maps history onto provider messages and appends the
// framed task.
func buildFlowMessages(history []conversation.Message, text string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: flowTaskFrame + text})
}

func speaker(role string) string {
	if role == conversation.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
