package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyhq/parley/pkg/schema"
)

// renderPersona turns a BusinessContext into the system-prompt preamble that
// precedes every capability prompt. An empty persona renders a minimal
// assistant identity.
func renderPersona(persona *schema.BusinessContext) string {
	var b strings.Builder

	if persona == nil || persona.BusinessName == "" {
		b.WriteString("You are a helpful assistant handling a customer conversation.\n")
	} else {
		fmt.Fprintf(&b, "You are the virtual assistant for %s", persona.BusinessName)
		if persona.Industry != "" {
			fmt.Fprintf(&b, ", a business in the %s industry", persona.Industry)
		}
		b.WriteString(".\n")
	}
	if persona == nil {
		return b.String()
	}

	if persona.Description != "" {
		fmt.Fprintf(&b, "About the business: %s\n", persona.Description)
	}
	if persona.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s.\n", persona.Tone)
	}
	if persona.Language != "" {
		fmt.Fprintf(&b, "Always respond in %s.\n", persona.Language)
	}
	if len(persona.Services) > 0 {
		fmt.Fprintf(&b, "Services offered: %s.\n", strings.Join(persona.Services, ", "))
	}
	if len(persona.Guidelines) > 0 {
		b.WriteString("Guidelines:\n")
		for _, g := range persona.Guidelines {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(persona.ProhibitedTopics) > 0 {
		fmt.Fprintf(&b, "Never discuss: %s.\n", strings.Join(persona.ProhibitedTopics, ", "))
	}
	if len(persona.EscalationTriggers) > 0 {
		fmt.Fprintf(&b, "Suggest speaking with a human if the customer mentions: %s.\n",
			strings.Join(persona.EscalationTriggers, ", "))
	}
	if persona.CustomInstructions != "" {
		b.WriteString(persona.CustomInstructions)
		b.WriteString("\n")
	}

	return b.String()
}

// renderHistory formats conversation turns for inclusion in a prompt body.
func renderHistory(history []Turn) string {
	if len(history) == 0 {
		return "(no messages yet)"
	}
	var b strings.Builder
	for _, t := range history {
		role := "Customer"
		if t.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}
	return b.String()
}

func buildGoalMessages(goal string, outcomes []string, history []Turn, persona *schema.BusinessContext, variables map[string]any) []openai.ChatCompletionMessage {
	var sys strings.Builder
	sys.WriteString(renderPersona(persona))
	sys.WriteString("\nYou evaluate whether a conversation goal has been achieved. " +
		"Respond with a single JSON object and nothing else:\n" +
		"{\n" +
		`  "achieved": true or false,` + "\n" +
		`  "confidence": 0-100,` + "\n" +
		`  "reasoning": "one or two sentences",` + "\n" +
		`  "selected_outcome": "one of the possible outcomes, if any apply",` + "\n" +
		`  "suggested_response": "what the assistant should say next",` + "\n" +
		`  "extracted_data": {"any facts the customer stated, as key-value pairs"}` + "\n" +
		"}\n")

	var usr strings.Builder
	fmt.Fprintf(&usr, "Goal: %s\n", goal)
	if len(outcomes) > 0 {
		fmt.Fprintf(&usr, "Possible outcomes: %s\n", strings.Join(outcomes, ", "))
	}
	if len(variables) > 0 {
		if data, err := json.Marshal(variables); err == nil {
			fmt.Fprintf(&usr, "Known facts so far: %s\n", data)
		}
	}
	usr.WriteString("\nConversation:\n")
	usr.WriteString(renderHistory(history))

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sys.String()},
		{Role: openai.ChatMessageRoleUser, Content: usr.String()},
	}
}

func buildGenerateMessages(instructions string, history []Turn, persona *schema.BusinessContext) []openai.ChatCompletionMessage {
	sys := renderPersona(persona) +
		"\nReply to the customer's last message. Keep the reply short and conversational.\n" +
		"Instructions for this reply: " + instructions

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sys},
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return messages
}

func buildExtractMessages(description, text string) []openai.ChatCompletionMessage {
	sys := "You extract structured data from text. Respond with a single JSON object " +
		"and nothing else. Omit fields the text does not mention."

	usr := fmt.Sprintf("Extract the following: %s\n\nText:\n%s", description, text)

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sys},
		{Role: openai.ChatMessageRoleUser, Content: usr},
	}
}

func buildClassifyMessages(question string, labels []string, text string) []openai.ChatCompletionMessage {
	sys := fmt.Sprintf("You answer classification questions with exactly one word. "+
		"Valid answers: %s, none. Answer \"none\" if no option applies.",
		strings.Join(labels, ", "))

	usr := fmt.Sprintf("%s\n\nText:\n%s", question, text)

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sys},
		{Role: openai.ChatMessageRoleUser, Content: usr},
	}
}
