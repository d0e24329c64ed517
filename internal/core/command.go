package core

import (
	"strconv"
	"strings"
)

// Action is the closed set of operations the classifier can request.
type Action string

const (
	ActionSell  Action = "SELL"
	ActionAdd   Action = "ADD"
	ActionCheck Action = "CHECK"
	// ActionUnrecognized marks a well-formed intent string whose action token
	// is not in the taxonomy: the item was understood, the verb was not.
	ActionUnrecognized Action = "UNRECOGNIZED"
	// ActionUnknown marks input the pipeline could not interpret at all.
	// A Command with this action carries no item or quantity and must never
	// reach the backend.
	ActionUnknown Action = "UNKNOWN"
)

// maxItemLen bounds the item name carried out of the classifier. Anything
// longer is clipped; the backend search is a substring match, so a prefix
// still resolves.
const maxItemLen = 80

// Command is the typed contract between the classifier's raw output and the
// executor. Parsing is total: every input yields a Command, never an error.
type Command struct {
	Action Action
	Item   string
	Qty    int
}

// unknownCommand is what every unparseable input collapses to.
func unknownCommand() Command {
	return Command{Action: ActionUnknown}
}

// ParseCommand interprets the classifier's pipe-delimited intent string:
//
//	SELL|<item>|<qty>
//	ADD|<item>|<qty>
//	CHECK|<item>
//
// A string without a delimiter, including the classifier's own "UNKNOWN"
// sentinel and any freeform text the oracle produced instead, parses to
// ActionUnknown. A recognized action with a missing quantity defaults to 1
// for SELL/ADD; CHECK always carries quantity 0. A malformed or negative
// quantity, or an empty item, also collapses to ActionUnknown.
func ParseCommand(raw string) Command {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "|") {
		return unknownCommand()
	}

	parts := strings.Split(raw, "|")
	token := strings.TrimSpace(parts[0])
	item := strings.TrimSpace(parts[1])
	if len(item) > maxItemLen {
		item = item[:maxItemLen]
	}
	if item == "" {
		return unknownCommand()
	}

	qty, ok := parseQty(parts)
	if !ok {
		return unknownCommand()
	}

	switch token {
	case "SELL":
		return Command{Action: ActionSell, Item: item, Qty: defaultOne(qty)}
	case "ADD":
		return Command{Action: ActionAdd, Item: item, Qty: defaultOne(qty)}
	case "CHECK":
		// Quantity is meaningless for a lookup.
		return Command{Action: ActionCheck, Item: item}
	default:
		return Command{Action: ActionUnrecognized, Item: item}
	}
}

// parseQty extracts the optional third segment. -1 means absent. A segment
// that is present but not a non-negative integer fails the parse.
func parseQty(parts []string) (int, bool) {
	if len(parts) < 3 {
		return -1, true
	}
	s := strings.TrimSpace(parts[2])
	if s == "" {
		return -1, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func defaultOne(qty int) int {
	if qty < 0 {
		return 1
	}
	return qty
}
