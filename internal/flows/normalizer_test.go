package flows_test

import (
	"encoding/json"
	"testing"

	"github.com/atendezap/zapbridge/internal/adapters/whatsapp"
	"github.com/atendezap/zapbridge/internal/flows"
)

func parsePayload(t *testing.T, raw string) whatsapp.WebhookPayload {
	t.Helper()
	var p whatsapp.WebhookPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return p
}

func TestNormalizeTextMessage(t *testing.T) {
	p := parsePayload(t, `{
	  "object": "whatsapp_business_account",
	  "entry": [{
	    "id": "1",
	    "changes": [{
	      "field": "messages",
	      "value": {
	        "messaging_product": "whatsapp",
	        "metadata": {"phone_number_id": "879357005252665"},
	        "contacts": [{"profile": {"name": "Ana"}, "wa_id": "5561999999999"}],
	        "messages": [{
	          "from": "5561999999999",
	          "id": "wamid.AAA",
	          "timestamp": "1700000000",
	          "type": "text",
	          "text": {"body": "Oi"}
	        }]
	      }
	    }]
	  }]
	}`)

	events := flows.Normalize(p)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Type != "text" || e.From != "5561999999999" || e.Text != "Oi" {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.ProfileName != "Ana" {
		t.Errorf("ProfileName = %q, want Ana", e.ProfileName)
	}
	if e.MessageID != "wamid.AAA" {
		t.Errorf("MessageID = %q, want wamid.AAA", e.MessageID)
	}
	if got := p.PhoneNumberID(); got != "879357005252665" {
		t.Errorf("PhoneNumberID() = %q", got)
	}
}

func TestNormalizeStatusWithErrors(t *testing.T) {
	p := parsePayload(t, `{
	  "entry": [{"changes": [{"value": {
	    "statuses": [{
	      "status": "failed",
	      "id": "wamid.BBB",
	      "recipient_id": "5561999999999",
	      "timestamp": "1700000001",
	      "errors": [{"code": 131047, "title": "Re-engagement message"}]
	    }, {
	      "status": "delivered",
	      "id": "wamid.CCC",
	      "recipient_id": "5561999999999",
	      "conversation": {"id": "conv1"},
	      "pricing": {"billable": true}
	    }]
	  }}]}]
	}`)

	events := flows.Normalize(p)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	failed := events[0]
	if failed.Type != "status" || failed.Status != "failed" {
		t.Errorf("unexpected event: %+v", failed)
	}
	if len(failed.Errors) != 1 || failed.Errors[0].Code != 131047 {
		t.Errorf("Errors = %+v", failed.Errors)
	}

	delivered := events[1]
	if delivered.Conversation["id"] != "conv1" {
		t.Errorf("Conversation = %v", delivered.Conversation)
	}
	if delivered.Pricing["billable"] != true {
		t.Errorf("Pricing = %v", delivered.Pricing)
	}
	if failed.Conversation != nil {
		t.Errorf("absent conversation should stay nil, got %v", failed.Conversation)
	}
}

func TestNormalizeMediaAndButton(t *testing.T) {
	p := parsePayload(t, `{
	  "entry": [{"changes": [{"value": {
	    "messages": [
	      {"from": "556199", "type": "image", "image": {"id": "m1", "mime_type": "image/jpeg", "caption": "foto"}},
	      {"from": "556199", "type": "document", "document": {"id": "m2", "filename": "doc.pdf"}},
	      {"from": "556199", "type": "location", "location": {"latitude": -15.8, "longitude": -47.9}},
	      {"from": "556199", "type": "button", "button": {"payload": "OPT_1", "text": "Sim"}},
	      {"from": "556199", "type": "sticker"}
	    ]
	  }}]}]
	}`)

	events := flows.Normalize(p)
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	if events[0].MediaID != "m1" || events[0].MimeType != "image/jpeg" || events[0].Caption != "foto" {
		t.Errorf("image event: %+v", events[0])
	}
	if events[1].Filename != "doc.pdf" {
		t.Errorf("document event: %+v", events[1])
	}
	if events[2].Latitude != -15.8 || events[2].Longitude != -47.9 {
		t.Errorf("location event: %+v", events[2])
	}
	if events[3].Payload != "OPT_1" || events[3].Text != "Sim" {
		t.Errorf("button event: %+v", events[3])
	}
	if events[4].Type != "sticker" {
		t.Errorf("unknown type should surface as bare event: %+v", events[4])
	}
}

func TestNormalizeWalksAllEntriesAndTolerate(t *testing.T) {
	p := parsePayload(t, `{
	  "entry": [
	    {"changes": [{"value": {"messages": [{"from": "1", "type": "text", "text": {"body": "a"}}]}}]},
	    {"changes": [{"value": {"messages": [{"from": "2", "type": "text", "text": {"body": "b"}}]}}]}
	  ]
	}`)
	if events := flows.Normalize(p); len(events) != 2 {
		t.Fatalf("got %d events, want both entries walked", len(events))
	}

	// Partial/empty payloads never panic.
	if events := flows.Normalize(whatsapp.WebhookPayload{}); len(events) != 0 {
		t.Fatalf("empty payload: got %d events, want 0", len(events))
	}
	p = parsePayload(t, `{"entry": [{"changes": [{"value": {
	  "messages": [{"type": "text", "text": {"body": "sem from"}}, {"from": "3"}],
	  "statuses": [{"status": "sent"}]
	}}]}]}`)
	if events := flows.Normalize(p); len(events) != 0 {
		t.Fatalf("invalid items: got %d events, want 0", len(events))
	}
}
