package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/atendezap/zapbridge/internal/adapters/whatsapp"
	"github.com/atendezap/zapbridge/internal/config"
	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/events"
	"github.com/atendezap/zapbridge/internal/flows"
	"github.com/atendezap/zapbridge/internal/logging"
	"github.com/atendezap/zapbridge/internal/tenants"
	"github.com/gofiber/fiber/v2"
)

// Handler handles the Meta webhook endpoints plus the internal send and
// health endpoints.
type Handler struct {
	verifyToken       string
	internalSendToken string
	configName        string
	dryRun            bool
	graphVersion      string
	defaultPNID       string

	gateway  core.Gateway
	store    core.MessageStore
	registry *tenants.Registry
	bus      *events.Bus
	log      *logging.Logger
}

// NewHandler creates the webhook handler.
func NewHandler(cfg config.Config, gateway core.Gateway, store core.MessageStore, registry *tenants.Registry, bus *events.Bus, log *logging.Logger) *Handler {
	if strings.TrimSpace(cfg.VerifyToken) == "" {
		log.Warn("http.verify_token_missing", nil)
	}
	return &Handler{
		verifyToken:       strings.TrimSpace(cfg.VerifyToken),
		internalSendToken: cfg.InternalSendToken,
		configName:        cfg.ConfigName,
		dryRun:            cfg.DryRun,
		graphVersion:      cfg.GraphVersion,
		defaultPNID:       cfg.PhoneNumberID,
		gateway:           gateway,
		store:             store,
		registry:          registry,
		bus:               bus,
		log:               log,
	}
}

// VerifyWebhook handles GET / for the Meta subscription handshake. Requests
// without the hub.* params (load balancer pings, browsers) get a plain "ok".
func (h *Handler) VerifyWebhook(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" || challenge == "" {
		return c.SendString("ok")
	}

	if mode == "subscribe" && strings.TrimSpace(token) == h.verifyToken && h.verifyToken != "" {
		h.log.Info("webhook.verified", nil)
		return c.SendString(challenge)
	}

	h.log.Warn("webhook.verify_failed", logging.Fields{"mode": mode})
	// Meta only needs the status; SendStatus would fill the body with
	// "Forbidden".
	return c.Status(http.StatusForbidden).SendString("")
}

// ReceiveMessage handles POST /: normalizes the envelope, records and
// publishes inbound messages, routes them through the tenant automation (or
// the default router) and dispatches the decided actions. Meta retries on
// non-2xx, so this always answers 200; processing errors are logged instead.
func (h *Handler) ReceiveMessage(c *fiber.Ctx) error {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("webhook.panic", logging.Fields{"panic": r})
		}
	}()

	var payload whatsapp.WebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		h.log.Warn("webhook.bad_payload", logging.Fields{"error": err.Error()})
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ignored"})
	}

	h.process(c.Context(), payload)

	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) process(ctx context.Context, payload whatsapp.WebhookPayload) {
	pnid := payload.PhoneNumberID()
	evts := flows.Normalize(payload)

	var messages []core.Event
	for _, e := range evts {
		if e.Type == "status" {
			h.handleStatus(ctx, e)
			continue
		}
		if h.isDuplicate(ctx, e) {
			continue
		}
		h.recordInbound(ctx, pnid, e)
		messages = append(messages, e)
	}

	if len(messages) == 0 {
		return
	}

	actions := h.route(ctx, pnid, messages)
	for _, a := range actions {
		h.dispatch(ctx, pnid, a)
	}
}

// isDuplicate marks the wamid processed and reports whether it had been seen
// before. Store errors count as fresh so a flaky store never drops messages.
func (h *Handler) isDuplicate(ctx context.Context, e core.Event) bool {
	if e.MessageID == "" {
		return false
	}
	fresh, err := h.store.MarkProcessed(ctx, e.MessageID)
	if err != nil {
		h.log.Warn("webhook.dedupe_error", logging.Fields{"error": err.Error()})
		return false
	}
	if !fresh {
		h.log.Info("webhook.duplicate_skipped", logging.Fields{"msg_id": e.MessageID})
	}
	return !fresh
}

func (h *Handler) recordInbound(ctx context.Context, pnid string, e core.Event) {
	rec := core.MessageRecord{
		TenantID:      pnid,
		Phone:         e.From,
		Direction:     core.DirectionInbound,
		Text:          e.Text,
		ExternalMsgID: e.MessageID,
		Status:        "received",
	}
	if meta := attachmentMeta(e); meta != nil {
		rec.AttachmentsMeta = meta
	}
	if err := h.store.Insert(ctx, &rec); err != nil {
		h.log.Error("webhook.store_error", logging.Fields{"error": err.Error()})
		return
	}
	h.bus.Publish(events.Channel(pnid, e.From), rec)
	h.log.Info("webhook.message_received", logging.Fields{
		"from": logging.MaskPhone(e.From),
		"type": e.Type,
		"pnid": pnid,
	})
}

func attachmentMeta(e core.Event) map[string]any {
	switch e.Type {
	case "image", "audio", "document":
		meta := map[string]any{"kind": e.Type, "media_id": e.MediaID, "mime_type": e.MimeType}
		if e.Caption != "" {
			meta["caption"] = e.Caption
		}
		if e.Filename != "" {
			meta["filename"] = e.Filename
		}
		return meta
	case "location":
		return map[string]any{
			"kind": "location", "latitude": e.Latitude, "longitude": e.Longitude,
			"name": e.Name, "address": e.Address,
		}
	}
	return nil
}

// route picks the tenant automation registered for pnid, or falls back to
// the default router.
func (h *Handler) route(ctx context.Context, pnid string, messages []core.Event) []core.Action {
	if responder := h.registry.Resolve(pnid); responder != nil {
		return responder.Respond(ctx, pnid, messages)
	}
	return flows.Decide(messages)
}

// dispatch sends one action. Failures are logged and swallowed so one bad
// send does not abort the rest of the batch.
func (h *Handler) dispatch(ctx context.Context, pnid string, a core.Action) {
	var (
		result map[string]any
		err    error
	)
	if a.Kind() == "template" {
		result, err = h.gateway.SendTemplate(ctx, a.To, a.Template, pnid)
	} else {
		result, err = h.gateway.SendText(ctx, a.To, a.Text, pnid)
	}
	if err != nil {
		h.log.Error("webhook.send_error", logging.Fields{
			"to":    logging.MaskPhone(a.To),
			"kind":  a.Kind(),
			"error": err.Error(),
		})
		return
	}

	rec := core.MessageRecord{
		TenantID:      pnid,
		Phone:         a.To,
		Direction:     core.DirectionOutbound,
		Text:          a.Text,
		ExternalMsgID: outboundMessageID(result),
		Status:        "sent",
	}
	if a.Kind() == "template" {
		rec.AttachmentsMeta = map[string]any{"kind": "template", "template": a.Template}
		if name, ok := a.Template["name"].(string); ok {
			rec.Text = "[template] " + name
		}
	}
	if err := h.store.Insert(ctx, &rec); err != nil {
		h.log.Error("webhook.store_error", logging.Fields{"error": err.Error()})
	}
	h.bus.Publish(events.Channel(pnid, a.To), rec)
}

// outboundMessageID pulls the wamid out of a Graph API send response.
func outboundMessageID(result map[string]any) string {
	msgs, ok := result["messages"].([]any)
	if !ok || len(msgs) == 0 {
		return ""
	}
	first, ok := msgs[0].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := first["id"].(string)
	return id
}

func (h *Handler) handleStatus(ctx context.Context, e core.Event) {
	if e.Status == "failed" {
		h.log.Error("webhook.status_failed", logging.Fields{
			"msg_id":    e.MessageID,
			"recipient": logging.MaskPhone(e.From),
			"errors":    e.Errors,
		})
	} else {
		h.log.Info("webhook.status", logging.Fields{
			"msg_id":       e.MessageID,
			"status":       e.Status,
			"recipient":    logging.MaskPhone(e.From),
			"conversation": e.Conversation,
			"pricing":      e.Pricing,
		})
	}

	if e.MessageID == "" {
		return
	}
	if err := h.store.UpdateStatusByExternalID(ctx, e.MessageID, e.Status); err != nil {
		h.log.Warn("webhook.status_update_error", logging.Fields{"error": err.Error()})
	}
}

type sendRequest struct {
	To            string         `json:"to"`
	Text          string         `json:"text"`
	Template      map[string]any `json:"template"`
	PhoneNumberID string         `json:"phone_number_id"`
}

// SendMessage handles POST /send, the internal outbound endpoint for
// operators and scripts. When INTERNAL_SEND_TOKEN is configured the caller
// must present it in X-Internal-Token.
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	if h.internalSendToken != "" && c.Get("X-Internal-Token") != h.internalSendToken {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "JSON inválido"})
	}
	if strings.TrimSpace(req.To) == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": `Informe "to"`})
	}
	if req.Text == "" && req.Template == nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": `Informe "text" ou "template"`})
	}

	ctx := c.Context()
	var (
		result map[string]any
		err    error
	)
	// text wins when both are present
	if req.Text != "" {
		result, err = h.gateway.SendText(ctx, req.To, req.Text, req.PhoneNumberID)
	} else {
		result, err = h.gateway.SendTemplate(ctx, req.To, req.Template, req.PhoneNumberID)
	}
	if err != nil {
		h.log.Error("send.error", logging.Fields{
			"to":    logging.MaskPhone(req.To),
			"error": err.Error(),
		})
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	// record under the number that actually sent, so the console stream
	// channel pnid|phone picks these up
	pnid := req.PhoneNumberID
	if pnid == "" {
		pnid = h.defaultPNID
	}
	rec := core.MessageRecord{
		TenantID:      pnid,
		Phone:         req.To,
		Direction:     core.DirectionOutbound,
		Text:          req.Text,
		ExternalMsgID: outboundMessageID(result),
		Status:        "sent",
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.Insert(ctx, &rec); err != nil {
		h.log.Warn("send.store_error", logging.Fields{"error": err.Error()})
	}
	h.bus.Publish(events.Channel(pnid, req.To), rec)

	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "result": result})
}

// Health handles GET /health.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":            true,
		"env":           h.configName,
		"dry_run":       h.dryRun,
		"graph_version": h.graphVersion,
	})
}
