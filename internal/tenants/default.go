package tenants

import (
	"context"

	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/flows"
)

// Default is the stateless automation: it applies the same rules as the
// fallback router. Useful to pin a number explicitly to the generic
// behavior.
type Default struct{}

// Respond applies the default routing rules.
func (Default) Respond(_ context.Context, _ string, events []core.Event) []core.Action {
	return flows.Decide(events)
}
