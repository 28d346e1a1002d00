package tenants

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/flows"
	"github.com/atendezap/zapbridge/internal/logging"
)

// envPrefix scopes the per-client overrides (CLIENTE_X_GREETING etc.).
const envPrefix = "CLIENTE_X_"

var (
	greetingsSet = map[string]struct{}{
		"oi": {}, "olá": {}, "ola": {},
		"bom dia": {}, "boa tarde": {}, "boa noite": {},
	}
	workingHoursRe  = regexp.MustCompile(`\bhor(a|á)rio\b`)
	templateHelloRe = regexp.MustCompile(`^template\s+hello$`)
	looksLikeNameRe = regexp.MustCompile(`[A-Za-zÀ-ÖØ-öø-ÿ]`)
)

// ClienteX is a stateful example automation: menu-driven conversation with
// per-state sessions (budget request captures the customer's name, support
// and human escalation branches).
type ClienteX struct {
	sessions     core.SessionStore
	log          *logging.Logger
	greeting     string
	workingHours string
}

// NewClienteX builds the automation, reading its per-client overrides from
// the environment once.
func NewClienteX(store core.SessionStore, log *logging.Logger) *ClienteX {
	return &ClienteX{
		sessions:     store,
		log:          log,
		greeting:     envOr("GREETING", "Olá! Sou o assistente da Cliente X. Como posso ajudar?"),
		workingHours: envOr("WORKING_HOURS", "Atendemos de seg a sex, 9h às 18h."),
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(envPrefix + name); v != "" {
		return v
	}
	return fallback
}

// Respond walks the text events and advances the conversation state machine
// for each sender.
func (c *ClienteX) Respond(ctx context.Context, pnid string, events []core.Event) []core.Action {
	var actions []core.Action

	for _, e := range events {
		if e.Type != "text" || e.From == "" {
			continue
		}
		if a, ok := c.respondOne(ctx, pnid, e); ok {
			actions = append(actions, a)
		}
	}

	return actions
}

func (c *ClienteX) respondOne(ctx context.Context, pnid string, e core.Event) (core.Action, bool) {
	to := e.From
	txt := strings.TrimSpace(e.Text)
	norm := strings.ToLower(txt)

	sess, err := c.sessions.Touch(ctx, pnid, to)
	if err != nil {
		c.log.Warn("tenants.session_error", logging.Fields{
			"to":    logging.MaskPhone(to),
			"error": err.Error(),
		})
		sess = &core.Session{State: core.StateIdle}
	}
	nome := sess.Context["nome"]

	// stateless rules first: greetings and working hours never change state
	if _, ok := greetingsSet[norm]; ok {
		return flows.TextAction(to, c.greeting), true
	}
	if workingHoursRe.MatchString(norm) {
		return flows.TextAction(to, c.workingHours), true
	}

	if norm == "menu" {
		c.setState(ctx, pnid, to, core.StateAwaitingMenu)
		return flows.TextAction(to, c.menuText(nome)), true
	}

	if templateHelloRe.MatchString(norm) {
		return flows.TemplateAction(to, map[string]any{
			"name":     "hello_world",
			"language": map[string]any{"code": "en_US"},
		}), true
	}

	switch sess.State {
	case core.StateAwaitingMenu:
		switch norm {
		case "1":
			c.setState(ctx, pnid, to, core.StateAwaitingName)
			return flows.TextAction(to, "Perfeito! Para o orçamento, qual é o seu nome?"), true
		case "2":
			c.setState(ctx, pnid, to, core.StateIdle)
			return flows.TextAction(to, "Descreva o problema que o suporte já te atende."), true
		case "3":
			c.setState(ctx, pnid, to, core.StateEscalated)
			return flows.TextAction(to, "Certo! Um atendente humano vai falar com você em instantes."), true
		}
		return flows.TextAction(to, "Opção inválida. Responda 1, 2 ou 3, ou digite 'menu' de novo."), true

	case core.StateAwaitingName:
		if looksLikeNameRe.MatchString(txt) && len(txt) >= 2 {
			c.setContext(ctx, pnid, to, map[string]string{"nome": txt})
			c.setState(ctx, pnid, to, core.StateIdle)
			return flows.TextAction(to, fmt.Sprintf("Obrigado, %s! Vamos preparar seu orçamento e te retornamos.", txt)), true
		}
		return flows.TextAction(to, "Não entendi. Pode me dizer seu nome?"), true
	}

	return flows.TextAction(to, "Recebi sua mensagem! Já te respondo. Digite 'menu' para ver opções."), true
}

func (c *ClienteX) menuText(nome string) string {
	prefix := "Menu Cliente X:\n"
	if nome != "" {
		prefix = nome + ", segue o menu:\n"
	}
	return prefix + "1) Orçamento\n2) Suporte\n3) Falar com humano"
}

func (c *ClienteX) setState(ctx context.Context, pnid, phone, state string) {
	if err := c.sessions.SetState(ctx, pnid, phone, state); err != nil {
		c.log.Warn("tenants.session_error", logging.Fields{
			"to":    logging.MaskPhone(phone),
			"error": err.Error(),
		})
	}
}

func (c *ClienteX) setContext(ctx context.Context, pnid, phone string, updates map[string]string) {
	if err := c.sessions.SetContext(ctx, pnid, phone, updates); err != nil {
		c.log.Warn("tenants.session_error", logging.Fields{
			"to":    logging.MaskPhone(phone),
			"error": err.Error(),
		})
	}
}
