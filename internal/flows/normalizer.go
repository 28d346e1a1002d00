package flows

import (
	"encoding/json"

	"github.com/atendezap/zapbridge/internal/adapters/whatsapp"
	"github.com/atendezap/zapbridge/internal/core"
)

// Normalize converts a raw webhook envelope into a flat list of events.
// Every entry and change is walked; malformed or partial items are skipped,
// never cause an error. Message events carry the profile name of the
// change's first contact when present.
func Normalize(payload whatsapp.WebhookPayload) []core.Event {
	var out []core.Event

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value

			profileName := ""
			if len(value.Contacts) > 0 {
				profileName = value.Contacts[0].Profile.Name
			}

			for _, m := range value.Messages {
				if m.From == "" || m.Type == "" {
					continue
				}
				evt, ok := normalizeMessage(m)
				if !ok {
					continue
				}
				evt.ProfileName = profileName
				out = append(out, evt)
			}

			for _, st := range value.Statuses {
				if st.RecipientID == "" || st.Status == "" {
					continue
				}
				out = append(out, normalizeStatus(st))
			}
		}
	}

	return out
}

func normalizeMessage(m whatsapp.Message) (core.Event, bool) {
	evt := core.Event{
		From:      m.From,
		Type:      m.Type,
		MessageID: m.ID,
		Timestamp: m.Timestamp,
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			evt.Text = m.Text.Body
		}
	case "image":
		if m.Image != nil {
			evt.MediaID = m.Image.ID
			evt.MimeType = m.Image.MimeType
			evt.Caption = m.Image.Caption
		}
	case "audio":
		if m.Audio != nil {
			evt.MediaID = m.Audio.ID
			evt.MimeType = m.Audio.MimeType
		}
	case "document":
		if m.Document != nil {
			evt.MediaID = m.Document.ID
			evt.MimeType = m.Document.MimeType
			evt.Filename = m.Document.Filename
			evt.Caption = m.Document.Caption
		}
	case "location":
		if m.Location == nil {
			return core.Event{}, false
		}
		evt.Latitude = m.Location.Latitude
		evt.Longitude = m.Location.Longitude
		evt.Name = m.Location.Name
		evt.Address = m.Location.Address
	case "button":
		if m.Button == nil {
			return core.Event{}, false
		}
		evt.Payload = m.Button.Payload
		evt.Text = m.Button.Text
	default:
		// unknown inbound types still surface as bare events
	}

	return evt, true
}

func normalizeStatus(st whatsapp.Status) core.Event {
	evt := core.Event{
		From:      st.RecipientID,
		Type:      "status",
		Status:    st.Status,
		MessageID: st.ID,
		Timestamp: st.Timestamp,
	}

	for _, e := range st.Errors {
		evt.Errors = append(evt.Errors, core.StatusError{
			Code:    e.Code,
			Title:   e.Title,
			Details: e.Details,
		})
	}

	evt.Conversation = rawToMap(st.Conversation)
	evt.Pricing = rawToMap(st.Pricing)

	return evt
}

func rawToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
