package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/zapbridge/internal/config"
	"github.com/atendezap/zapbridge/internal/logging"
)

// ProviderError is returned when the Graph API answers with a non-2xx
// status. Detail carries the best-effort parsed error body.
type ProviderError struct {
	Status int
	Detail map[string]any
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("whatsapp API error: status %d", e.Status)
}

// AsProviderError unwraps err into a *ProviderError when possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Client sends messages through the WhatsApp Cloud API. In dry-run mode no
// network call is made and the would-be payload is echoed back.
type Client struct {
	baseURL       string
	graphVersion  string
	phoneNumberID string
	token         string
	dryRun        bool
	httpClient    *http.Client
	log           *logging.Logger
}

// NewClient creates a Cloud API client from the loaded configuration.
func NewClient(cfg *config.Config, log *logging.Logger) *Client {
	return &Client{
		baseURL:       "https://graph.facebook.com",
		graphVersion:  cfg.GraphVersion,
		phoneNumberID: cfg.PhoneNumberID,
		token:         cfg.WhatsAppToken,
		dryRun:        cfg.DryRun,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body, phoneNumberID string) (map[string]any, error) {
	if to == "" {
		return nil, fmt.Errorf("send text: destination is required")
	}
	if body == "" {
		return nil, fmt.Errorf("send text: body is required")
	}

	payload := TextMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
	}
	payload.Text.Body = body

	return c.post(ctx, payload, to, "text", phoneNumberID)
}

// SendTemplate sends a pre-approved template message. The template spec is
// not validated locally; the provider rejects malformed ones.
func (c *Client) SendTemplate(ctx context.Context, to string, template map[string]any, phoneNumberID string) (map[string]any, error) {
	if to == "" {
		return nil, fmt.Errorf("send template: destination is required")
	}
	if template == nil {
		return nil, fmt.Errorf("send template: template spec is required")
	}

	payload := TemplateMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         template,
	}

	return c.post(ctx, payload, to, "template", phoneNumberID)
}

// post issues the authenticated POST to {base}/{version}/{pnid}/messages and
// parses the response. A single attempt per call; the caller decides whether
// to retry.
func (c *Client) post(ctx context.Context, payload any, to, kind, phoneNumberID string) (map[string]any, error) {
	pnid := phoneNumberID
	if pnid == "" {
		pnid = c.phoneNumberID
	}
	if pnid == "" || (c.token == "" && !c.dryRun) {
		c.log.Error("wa.misconfig", logging.Fields{
			"have_pnid":  pnid != "",
			"have_token": c.token != "",
		})
		return nil, fmt.Errorf("whatsapp API misconfigured: PHONE_NUMBER_ID/WHATSAPP_TOKEN missing")
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.graphVersion, pnid)

	if c.dryRun {
		c.log.Info("wa.dry_run", logging.Fields{
			"url":  url,
			"to":   logging.MaskPhone(to),
			"type": kind,
		})
		return map[string]any{"dry_run": true, "payload": payload}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	rid := uuid.New().String()
	started := time.Now()

	c.log.Debug("wa.request", logging.Fields{
		"rid":  rid,
		"url":  url,
		"to":   logging.MaskPhone(to),
		"type": kind,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("wa.network_error", logging.Fields{"rid": rid, "error": err.Error()})
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Read the whole body as text before parsing so malformed JSON on error
	// paths cannot crash the handler.
	raw, _ := io.ReadAll(resp.Body)

	c.log.Info("wa.response", logging.Fields{
		"rid":        rid,
		"status":     resp.StatusCode,
		"elapsed_ms": time.Since(started).Milliseconds(),
		"snippet":    snippet(raw, 300),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := map[string]any{}
		if err := json.Unmarshal(raw, &detail); err != nil {
			detail = map[string]any{"raw": string(raw)}
		}
		c.log.Error("wa.error", logging.Fields{
			"rid":    rid,
			"status": resp.StatusCode,
			"detail": detail,
		})
		return nil, &ProviderError{Status: resp.StatusCode, Detail: detail}
	}

	result := map[string]any{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return map[string]any{}, nil
	}
	return result, nil
}

func snippet(b []byte, max int) string {
	s := string(b)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
