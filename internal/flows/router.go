package flows

import (
	"fmt"
	"strings"

	"github.com/atendezap/zapbridge/internal/core"
)

// MenuText is the fixed three-option menu sent when a user types "menu".
const MenuText = "Menu:\n1) Orçamento\n2) Suporte\n3) Falar com humano"

// DefaultName addresses senders whose profile carries no display name.
const DefaultName = "aí"

// TextAction builds a plain text action.
func TextAction(to, body string) core.Action {
	return core.Action{To: to, Text: body}
}

// TemplateAction builds a template action.
func TemplateAction(to string, template map[string]any) core.Action {
	return core.Action{To: to, Template: template}
}

// Decide is the default (fallback) router, used when no tenant automation is
// registered for the receiving number. Only text events produce actions, one
// per message, addressed back to the sender:
//
//   - "menu" (trimmed, case-insensitive) -> the fixed menu
//   - anything else -> a greeting echoing the sender's name and text
func Decide(events []core.Event) []core.Action {
	var out []core.Action

	for _, e := range events {
		if e.Type != "text" || e.From == "" {
			continue
		}

		if strings.EqualFold(strings.TrimSpace(e.Text), "menu") {
			out = append(out, TextAction(e.From, MenuText))
			continue
		}

		name := e.ProfileName
		if name == "" {
			name = DefaultName
		}
		reply := fmt.Sprintf("Olá, %s! Recebi sua mensagem: %s. Já te respondo.", name, e.Text)
		out = append(out, TextAction(e.From, reply))
	}

	return out
}
