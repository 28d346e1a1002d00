package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/atendezap/zapbridge/internal/adapters/whatsapp"
	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/events"
	"github.com/atendezap/zapbridge/internal/flows"
	"github.com/atendezap/zapbridge/internal/logging"
	"github.com/atendezap/zapbridge/internal/tenants"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const historyCap = 200

// simulationEntry is one recorded run of the simulator.
type simulationEntry struct {
	At      time.Time     `json:"at"`
	Source  string        `json:"source"`
	PNID    string        `json:"pnid,omitempty"`
	From    string        `json:"from,omitempty"`
	Actions []core.Action `json:"actions"`
}

// DevHandler backs the developer console: the webhook simulator, the
// simulation history ring, store-backed message history, the SSE live
// stream and the operator panel reads. It runs the same
// normalize/route pipeline as the webhook but never calls the provider.
type DevHandler struct {
	store    core.MessageStore
	registry *tenants.Registry
	bus      *events.Bus
	log      *logging.Logger

	mu      sync.Mutex
	history []simulationEntry
}

// NewDevHandler creates the developer console handler.
func NewDevHandler(store core.MessageStore, registry *tenants.Registry, bus *events.Bus, log *logging.Logger) *DevHandler {
	return &DevHandler{
		store:    store,
		registry: registry,
		bus:      bus,
		log:      log,
	}
}

type simulateShorthand struct {
	PhoneNumberID string `json:"phone_number_id"`
	From          string `json:"from"`
	Text          string `json:"text"`
}

// Simulate handles POST /dev/simulate. The body is either a full Meta
// envelope or the shorthand {phone_number_id, from, text}, which gets
// wrapped into one.
func (h *DevHandler) Simulate(c *fiber.Ctx) error {
	body := c.Body()

	var payload whatsapp.WebhookPayload
	source := "raw"
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Entry) == 0 {
		var short simulateShorthand
		if err := json.Unmarshal(body, &short); err != nil || short.From == "" || short.Text == "" {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": `Informe um envelope ou {"phone_number_id","from","text"}`,
			})
		}
		payload = shorthandEnvelope(short)
		source = "shorthand"
	}

	pnid := payload.PhoneNumberID()
	evts := flows.Normalize(payload)

	var messages []core.Event
	for _, e := range evts {
		if e.Type != "status" {
			messages = append(messages, e)
		}
	}

	var actions []core.Action
	if responder := h.registry.Resolve(pnid); responder != nil {
		actions = responder.Respond(c.Context(), pnid, messages)
	} else {
		actions = flows.Decide(messages)
	}
	if actions == nil {
		actions = []core.Action{}
	}

	entry := simulationEntry{
		At:      time.Now().UTC(),
		Source:  source,
		PNID:    pnid,
		Actions: actions,
	}
	if len(messages) > 0 {
		entry.From = messages[0].From
	}
	h.appendHistory(entry)

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"source":  source,
		"actions": actions,
	})
}

func shorthandEnvelope(s simulateShorthand) whatsapp.WebhookPayload {
	return whatsapp.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsapp.Entry{{
			Changes: []whatsapp.Change{{
				Field: "messages",
				Value: whatsapp.ChangeValue{
					MessagingProduct: "whatsapp",
					Metadata:         whatsapp.Metadata{PhoneNumberID: s.PhoneNumberID},
					Messages: []whatsapp.Message{{
						From: s.From,
						ID:   "wamid.sim-" + uuid.New().String(),
						Type: "text",
						Text: &whatsapp.Text{Body: s.Text},
					}},
				},
			}},
		}},
	}
}

func (h *DevHandler) appendHistory(entry simulationEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, entry)
	if len(h.history) > historyCap {
		h.history = h.history[len(h.history)-historyCap:]
	}
}

// History handles GET /dev/history, newest first.
func (h *DevHandler) History(c *fiber.Ctx) error {
	h.mu.Lock()
	out := make([]simulationEntry, len(h.history))
	for i, e := range h.history {
		out[len(h.history)-1-i] = e
	}
	h.mu.Unlock()

	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "history": out})
}

// Messages handles GET /dev/messages?pnid=&phone=&limit= — the stored
// conversation in chronological order, scoped to the tenant when pnid is
// given. A missing phone yields an empty list rather than an error so the
// console can render before a contact is picked.
func (h *DevHandler) Messages(c *fiber.Ctx) error {
	phone := c.Query("phone")
	pnid := c.Query("pnid")
	limit := queryInt(c, "limit", 50)

	if phone == "" {
		return c.Status(http.StatusOK).JSON(fiber.Map{"messages": []core.MessageRecord{}})
	}

	records, err := h.store.ListByPhone(c.Context(), phone, limit, time.Time{})
	if err != nil {
		h.log.Error("dev.messages_error", logging.Fields{"error": err.Error()})
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "store error"})
	}

	// ListByPhone is newest first; the console wants chronological order.
	out := make([]core.MessageRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if pnid != "" && records[i].TenantID != pnid {
			continue
		}
		out = append(out, records[i])
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"messages": out})
}

// Stream handles GET /dev/stream?pnid=&phone= — an SSE feed of message
// records for one conversation, fed by the event bus.
func (h *DevHandler) Stream(c *fiber.Ctx) error {
	phone := c.Query("phone")
	pnid := c.Query("pnid")
	if phone == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": `Informe "phone"`})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	channel := events.Channel(pnid, phone)
	subscriberID := uuid.New().String()

	ctx, cancel := context.WithCancel(context.Background())
	recordChan := h.bus.Subscribe(ctx, channel, subscriberID)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if _, err := w.WriteString("retry: 1500\n\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case records, ok := <-recordChan:
				if !ok {
					return
				}
				data, err := events.FormatSSE(records)
				if err != nil {
					h.log.Warn("dev.sse_format_error", logging.Fields{"error": err.Error()})
					continue
				}
				if _, err := w.WriteString(data); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}

// PanelMessages handles GET /panel/api/messages?phone=&limit=&before= for
// the operator panel, newest first.
func (h *DevHandler) PanelMessages(c *fiber.Ctx) error {
	phone := c.Query("phone")
	if phone == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": `Informe "phone"`})
	}
	limit := queryInt(c, "limit", 50)

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": `"before" deve ser RFC3339`})
		}
		before = parsed
	}

	items, err := h.store.ListByPhone(c.Context(), phone, limit, before)
	if err != nil {
		h.log.Error("panel.messages_error", logging.Fields{"error": err.Error()})
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "store error"})
	}
	if items == nil {
		items = []core.MessageRecord{}
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "items": items})
}

// PanelContacts handles GET /panel/api/contacts/recent?limit=.
func (h *DevHandler) PanelContacts(c *fiber.Ctx) error {
	limit := queryInt(c, "limit", 20)

	items, err := h.store.RecentContacts(c.Context(), limit)
	if err != nil {
		h.log.Error("panel.contacts_error", logging.Fields{"error": err.Error()})
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "store error"})
	}
	if items == nil {
		items = []core.Contact{}
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "items": items})
}

func queryInt(c *fiber.Ctx, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
