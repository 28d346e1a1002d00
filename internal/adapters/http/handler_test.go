package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atendezap/zapbridge/internal/config"
	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/events"
	"github.com/atendezap/zapbridge/internal/logging"
	"github.com/atendezap/zapbridge/internal/sessions"
	"github.com/atendezap/zapbridge/internal/tenants"
	"github.com/gofiber/fiber/v2"
)

type sentMessage struct {
	to       string
	body     string
	template map[string]any
	pnid     string
}

type mockGateway struct {
	mu     sync.Mutex
	sent   []sentMessage
	err    error
	result map[string]any
}

func (g *mockGateway) SendText(_ context.Context, to, body, pnid string) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.sent = append(g.sent, sentMessage{to: to, body: body, pnid: pnid})
	return g.response(), nil
}

func (g *mockGateway) SendTemplate(_ context.Context, to string, template map[string]any, pnid string) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.sent = append(g.sent, sentMessage{to: to, template: template, pnid: pnid})
	return g.response(), nil
}

func (g *mockGateway) response() map[string]any {
	if g.result != nil {
		return g.result
	}
	return map[string]any{
		"messages": []any{map[string]any{"id": fmt.Sprintf("wamid.out-%d", len(g.sent))}},
	}
}

func (g *mockGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type mockStore struct {
	mu        sync.Mutex
	inserted  []core.MessageRecord
	processed map[string]bool
	statuses  map[string]string
	listing   []core.MessageRecord
	contacts  []core.Contact
}

func newMockStore() *mockStore {
	return &mockStore{
		processed: make(map[string]bool),
		statuses:  make(map[string]string),
	}
}

func (s *mockStore) Insert(_ context.Context, rec *core.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.inserted = append(s.inserted, *rec)
	return nil
}

func (s *mockStore) UpdateStatusByExternalID(_ context.Context, externalMsgID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[externalMsgID] = status
	return nil
}

func (s *mockStore) ListByPhone(_ context.Context, phone string, limit int, _ time.Time) ([]core.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MessageRecord
	for _, r := range s.listing {
		if r.Phone == phone {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) RecentContacts(_ context.Context, _ int) ([]core.Contact, error) {
	return s.contacts, nil
}

func (s *mockStore) MarkProcessed(_ context.Context, externalMsgID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[externalMsgID] {
		return false, nil
	}
	s.processed[externalMsgID] = true
	return true, nil
}

func (s *mockStore) insertedByDirection(direction string) []core.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MessageRecord
	for _, r := range s.inserted {
		if r.Direction == direction {
			out = append(out, r)
		}
	}
	return out
}

type testEnv struct {
	app     *fiber.App
	gateway *mockGateway
	store   *mockStore
	bus     *events.Bus
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	log, err := logging.New("ERROR")
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	gateway := &mockGateway{}
	store := newMockStore()
	bus := events.NewBus()
	registry := tenants.NewRegistry(cfg.TenantRegistry, sessions.NewMemoryStore(nil), log)
	h := NewHandler(cfg, gateway, store, registry, bus, log)

	app := fiber.New()
	app.Get("/", h.VerifyWebhook)
	app.Post("/", h.ReceiveMessage)
	app.Post("/send", h.SendMessage)
	app.Get("/health", h.Health)

	return &testEnv{app: app, gateway: gateway, store: store, bus: bus}
}

func defaultConfig() config.Config {
	return config.Config{
		ConfigName:   "test",
		VerifyToken:  "my-verify-token",
		GraphVersion: "v22.0",
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func textEnvelope(pnid, from, wamid, text string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "ba-1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"metadata": {"display_phone_number": "5511988880000", "phone_number_id": %q},
			"contacts": [{"profile": {"name": "Ana"}, "wa_id": %q}],
			"messages": [{"from": %q, "id": %q, "timestamp": "1726000000", "type": "text", "text": {"body": %q}}]
		}}]}]
	}`, pnid, from, from, wamid, text)
}

func TestVerifyWebhook(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	cases := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid handshake", "hub.mode=subscribe&hub.verify_token=my-verify-token&hub.challenge=12345", 200, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", 403, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=my-verify-token&hub.challenge=12345", 403, ""},
		{"no params health ping", "", 200, "ok"},
		{"partial params", "hub.mode=subscribe", 200, "ok"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, env.app, "GET", "/?"+tc.query, "", nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("status: got %d, want %d", resp.StatusCode, tc.status)
			}
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if string(raw) != tc.body {
				t.Fatalf("body: got %q, want %q", raw, tc.body)
			}
		})
	}
}

func TestReceiveTextMessageRepliesAndRecords(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	resp := doJSON(t, env.app, "POST", "/", textEnvelope("111", "5511999990000", "wamid.A1", "tudo bem?"), nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	if got := env.gateway.sentCount(); got != 1 {
		t.Fatalf("sends: got %d, want 1", got)
	}
	sent := env.gateway.sent[0]
	if sent.to != "5511999990000" {
		t.Errorf("reply to: %q", sent.to)
	}
	if !strings.Contains(sent.body, "Olá, Ana!") || !strings.Contains(sent.body, "tudo bem?") {
		t.Errorf("reply body: %q", sent.body)
	}
	if sent.pnid != "111" {
		t.Errorf("pnid: %q", sent.pnid)
	}

	inbound := env.store.insertedByDirection(core.DirectionInbound)
	if len(inbound) != 1 || inbound[0].ExternalMsgID != "wamid.A1" || inbound[0].TenantID != "111" {
		t.Fatalf("inbound records: %+v", inbound)
	}
	outbound := env.store.insertedByDirection(core.DirectionOutbound)
	if len(outbound) != 1 || outbound[0].ExternalMsgID == "" {
		t.Fatalf("outbound records: %+v", outbound)
	}
}

func TestReceiveDuplicateMessageSkipped(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	envelope := textEnvelope("111", "5511999990000", "wamid.DUP", "oi de novo")

	doJSON(t, env.app, "POST", "/", envelope, nil)
	doJSON(t, env.app, "POST", "/", envelope, nil)

	if got := env.gateway.sentCount(); got != 1 {
		t.Fatalf("duplicate delivery should not re-reply: %d sends", got)
	}
	if got := len(env.store.insertedByDirection(core.DirectionInbound)); got != 1 {
		t.Fatalf("inbound records: %d", got)
	}
}

func TestReceiveStatusUpdatesStoredMessage(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	envelope := `{"object": "whatsapp_business_account", "entry": [{"changes": [{"field": "messages", "value": {
		"metadata": {"phone_number_id": "111"},
		"statuses": [{"id": "wamid.OUT1", "status": "delivered", "recipient_id": "5511999990000", "timestamp": "1726000001"}]
	}}]}]}`

	resp := doJSON(t, env.app, "POST", "/", envelope, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if env.gateway.sentCount() != 0 {
		t.Fatalf("statuses must not trigger replies")
	}
	if env.store.statuses["wamid.OUT1"] != "delivered" {
		t.Fatalf("stored status: %q", env.store.statuses["wamid.OUT1"])
	}
}

func TestReceiveMalformedBodyStill200(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	resp := doJSON(t, env.app, "POST", "/", "{not json", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if env.gateway.sentCount() != 0 {
		t.Fatalf("no sends expected")
	}
}

func TestReceiveSendErrorDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.gateway.err = fmt.Errorf("graph api: status 500")

	resp := doJSON(t, env.app, "POST", "/", textEnvelope("111", "5511999990000", "wamid.E1", "oi"), nil)
	if resp.StatusCode != 200 {
		t.Fatalf("webhook must stay 200 on send failure, got %d", resp.StatusCode)
	}
	if got := len(env.store.insertedByDirection(core.DirectionOutbound)); got != 0 {
		t.Fatalf("failed sends must not be recorded as outbound: %d", got)
	}
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	cases := []struct {
		name    string
		body    string
		status  int
		errText string
	}{
		{"missing to", `{"text": "oi"}`, 400, `Informe "to"`},
		{"missing text and template", `{"to": "5511999990000"}`, 400, `Informe "text" ou "template"`},
		{"bad json", `{`, 400, "JSON inválido"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, env.app, "POST", "/send", tc.body, nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("status: got %d, want %d", resp.StatusCode, tc.status)
			}
			body := decodeBody(t, resp)
			if body["error"] != tc.errText {
				t.Fatalf("error: got %q, want %q", body["error"], tc.errText)
			}
		})
	}
}

func TestSendTextWinsOverTemplate(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	resp := doJSON(t, env.app, "POST", "/send",
		`{"to": "5511999990000", "text": "oi", "template": {"name": "hello_world"}}`, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true {
		t.Fatalf("body: %v", body)
	}
	if env.gateway.sent[0].template != nil {
		t.Fatalf("text should win when both are present")
	}
	if env.gateway.sent[0].body != "oi" {
		t.Fatalf("sent body: %q", env.gateway.sent[0].body)
	}
}

func TestSendTemplate(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	resp := doJSON(t, env.app, "POST", "/send",
		`{"to": "5511999990000", "template": {"name": "hello_world", "language": {"code": "en_US"}}}`, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if env.gateway.sent[0].template["name"] != "hello_world" {
		t.Fatalf("template: %v", env.gateway.sent[0].template)
	}
}

func TestSendRecordsUnderEffectivePNID(t *testing.T) {
	cfg := defaultConfig()
	cfg.PhoneNumberID = "999"
	env := newTestEnv(t, cfg)

	doJSON(t, env.app, "POST", "/send", `{"to": "5511999990000", "text": "oi"}`, nil)
	doJSON(t, env.app, "POST", "/send", `{"to": "5511999990000", "text": "oi", "phone_number_id": "777"}`, nil)

	outbound := env.store.insertedByDirection(core.DirectionOutbound)
	if len(outbound) != 2 {
		t.Fatalf("outbound records: %d", len(outbound))
	}
	if outbound[0].TenantID != "999" {
		t.Errorf("omitted pnid should fall back to the configured number, got %q", outbound[0].TenantID)
	}
	if outbound[1].TenantID != "777" {
		t.Errorf("explicit pnid: got %q", outbound[1].TenantID)
	}
}

func TestSendProviderError(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.gateway.err = fmt.Errorf("graph api: status 401")

	resp := doJSON(t, env.app, "POST", "/send", `{"to": "5511999990000", "text": "oi"}`, nil)
	if resp.StatusCode != 500 {
		t.Fatalf("status: got %d, want 500", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] == "" {
		t.Fatalf("error message missing: %v", body)
	}
}

func TestSendInternalToken(t *testing.T) {
	cfg := defaultConfig()
	cfg.InternalSendToken = "s3cret"
	env := newTestEnv(t, cfg)

	resp := doJSON(t, env.app, "POST", "/send", `{"to": "5511999990000", "text": "oi"}`, nil)
	if resp.StatusCode != 401 {
		t.Fatalf("without token: got %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, env.app, "POST", "/send", `{"to": "5511999990000", "text": "oi"}`,
		map[string]string{"X-Internal-Token": "s3cret"})
	if resp.StatusCode != 200 {
		t.Fatalf("with token: got %d, want 200", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	cfg := defaultConfig()
	cfg.DryRun = true
	env := newTestEnv(t, cfg)

	resp := doJSON(t, env.app, "GET", "/health", "", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true || body["env"] != "test" || body["dry_run"] != true || body["graph_version"] != "v22.0" {
		t.Fatalf("body: %v", body)
	}
}

func TestReceiveRoutesRegisteredTenant(t *testing.T) {
	cfg := defaultConfig()
	cfg.TenantRegistry = map[string]string{"222": "clientex"}
	env := newTestEnv(t, cfg)

	doJSON(t, env.app, "POST", "/", textEnvelope("222", "5511999990000", "wamid.T1", "oi"), nil)

	if env.gateway.sentCount() != 1 {
		t.Fatalf("sends: %d", env.gateway.sentCount())
	}
	if !strings.Contains(env.gateway.sent[0].body, "assistente da Cliente X") {
		t.Fatalf("tenant automation should answer, got %q", env.gateway.sent[0].body)
	}
}
