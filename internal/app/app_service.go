package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"duka-agent/internal/ai"
	"duka-agent/internal/backend"
	"duka-agent/internal/core"
)

type appService struct {
	intents   ai.IntentService
	inventory backend.InventoryService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(intents ai.IntentService, inventory backend.InventoryService) ApplicationService {
	return &appService{intents: intents, inventory: inventory}
}

// HandleMessage classifies the text, parses the intent string into a typed
// command, and dispatches it. The switch covers every Action variant; the
// default branch exists only so an action added to core without a handler
// here answers visibly instead of reaching the backend half-wired.
func (s *appService) HandleMessage(ctx context.Context, text string) string {
	raw := s.intents.Classify(ctx, text)
	log.Printf("intent: %q -> %q", text, raw)

	cmd := core.ParseCommand(raw)
	switch cmd.Action {
	case core.ActionSell:
		return s.sell(ctx, cmd)
	case core.ActionAdd:
		return s.restock(ctx, cmd)
	case core.ActionCheck:
		return s.check(ctx, cmd)
	case core.ActionUnrecognized:
		return msgActionNotUnderstood
	case core.ActionUnknown:
		return msgNotUnderstood
	default:
		log.Printf("unhandled action %q", cmd.Action)
		return msgNotUnderstood
	}
}

func (s *appService) check(ctx context.Context, cmd core.Command) string {
	info, err := s.inventory.CheckStock(ctx, cmd.Item)
	if err != nil {
		return lookupFailureMessage(cmd.Item, err)
	}
	return fmt.Sprintf("✅ Found: %s\n💰 Price: %s KES\n📉 Stock: %s",
		info.Name, info.ListPrice.String(), info.Available.String())
}

func (s *appService) sell(ctx context.Context, cmd core.Command) string {
	res, err := s.inventory.MakeSale(ctx, cmd.Item, cmd.Qty)
	if err != nil {
		if msg, ok := notFoundOrAmbiguous(cmd.Item, err); ok {
			return msg
		}
		return fmt.Sprintf("Sale Error: %v", err)
	}
	return fmt.Sprintf("💸 SOLD %d x %s.\n📉 Remaining: %s",
		res.Qty, res.Item, res.Remaining.String())
}

func (s *appService) restock(ctx context.Context, cmd core.Command) string {
	res, err := s.inventory.AddStock(ctx, cmd.Item, cmd.Qty)
	if err != nil {
		if msg, ok := notFoundOrAmbiguous(cmd.Item, err); ok {
			return msg
		}
		return fmt.Sprintf("Restock Error: %v", err)
	}
	reply := fmt.Sprintf("🚛 ADDED %d x %s.\n📈 New Stock: %s",
		res.Qty, res.Item, res.Balance.String())
	if res.Apply == backend.ApplyUnsupported {
		reply += "\n⏳ The adjustment is recorded but still pending in the backend."
	}
	return reply
}

// ── reply texts ───────────────────────────────────────────────────────────────

const (
	msgNotUnderstood       = "🤖 Sorry, I didn't understand that. Try saying 'Sell 2 Bread' or 'Niuze Mkate'."
	msgActionNotUnderstood = "⚠️ I understood the item, but not the action."
)

func notFoundMessage(item string) string {
	return fmt.Sprintf("❌ Item '%s' not found.", item)
}

func ambiguousMessage(item string, candidates []string) string {
	return fmt.Sprintf("🔎 '%s' matches several items: %s. Please be more specific.",
		item, strings.Join(candidates, ", "))
}

// notFoundOrAmbiguous maps the two user-facing lookup outcomes to their
// messages. Other errors are the caller's to report.
func notFoundOrAmbiguous(item string, err error) (string, bool) {
	if errors.Is(err, backend.ErrNotFound) {
		return notFoundMessage(item), true
	}
	var ambErr *backend.AmbiguousError
	if errors.As(err, &ambErr) {
		return ambiguousMessage(item, ambErr.Candidates), true
	}
	return "", false
}

// lookupFailureMessage is the CHECK error path: lookup errors beyond
// not-found/ambiguous read as the raw error text, matching the reply the
// channel has always sent for them.
func lookupFailureMessage(item string, err error) string {
	if msg, ok := notFoundOrAmbiguous(item, err); ok {
		return msg
	}
	return err.Error()
}
