package tenants

import (
	"context"

	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/logging"
)

// Responder decides the outbound actions for the normalized events of one
// webhook delivery. pnid is the business number the envelope arrived on, so
// stateful automations can scope their sessions.
type Responder interface {
	Respond(ctx context.Context, pnid string, events []core.Event) []core.Action
}

// Registry maps phone_number_id -> automation. Numbers without a registered
// automation fall back to the default router at the call site.
type Registry struct {
	byPNID map[string]Responder
	log    *logging.Logger
}

// NewRegistry builds a registry from the configured mapping
// (phone_number_id -> automation name). Known names: "default", "clientex".
// Unknown names are logged and skipped, mirroring the lenient resolution of
// the registry config.
func NewRegistry(mapping map[string]string, store core.SessionStore, log *logging.Logger) *Registry {
	r := &Registry{
		byPNID: make(map[string]Responder, len(mapping)),
		log:    log,
	}

	for pnid, name := range mapping {
		switch name {
		case "default":
			r.byPNID[pnid] = Default{}
		case "clientex", "cliente_x":
			r.byPNID[pnid] = NewClienteX(store, log)
		default:
			log.Warn("tenants.unknown_automation", logging.Fields{
				"pnid": pnid,
				"name": name,
			})
		}
	}

	return r
}

// Register wires an automation for a phone_number_id directly (tests,
// embedders).
func (r *Registry) Register(pnid string, responder Responder) {
	r.byPNID[pnid] = responder
}

// Resolve returns the automation for pnid, or nil when none is registered.
func (r *Registry) Resolve(pnid string) Responder {
	if pnid == "" {
		return nil
	}
	return r.byPNID[pnid]
}
