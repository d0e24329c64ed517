package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNotFound means no product in the catalog matched the requested name.
var ErrNotFound = errors.New("product not found")

// AmbiguousError means the name matched several products and none exactly.
// Candidates holds up to five matching names for the user to pick from.
type AmbiguousError struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("product %q is ambiguous: matches %s", e.Query, strings.Join(e.Candidates, ", "))
}

// ApplyStatus tells the caller what happened to the pending inventory delta
// after a restock write.
type ApplyStatus string

const (
	// ApplyApplied means the backend accepted the apply action and the delta
	// is committed to the on-hand balance.
	ApplyApplied ApplyStatus = "APPLIED"
	// ApplyUnsupported means the apply action faulted (not exposed on this
	// backend configuration); the delta is recorded but still pending.
	ApplyUnsupported ApplyStatus = "UNSUPPORTED"
)

// Product is the remote catalog entry as this service sees it: an opaque ID
// plus the three fields the replies need. Owned by the backend; never stored
// beyond a single request.
type Product struct {
	ID        int64
	Name      string
	ListPrice decimal.Decimal
	Available decimal.Decimal // virtual balance: on hand net of commitments
}

// StockInfo is returned by CheckStock.
type StockInfo struct {
	Name      string
	ListPrice decimal.Decimal
	Available decimal.Decimal
}

// SaleResult is returned by MakeSale after the order is confirmed.
type SaleResult struct {
	Item      string
	Qty       int
	Remaining decimal.Decimal // re-read after confirmation, not computed locally
}

// RestockResult is returned by AddStock.
type RestockResult struct {
	Item    string
	Qty     int
	Balance decimal.Decimal // re-read after the adjustment
	Apply   ApplyStatus
}

// RPC is the slice of Client the inventory operations need. Tests substitute
// a scripted fake.
type RPC interface {
	ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error)
}

// InventoryService executes the three domain operations against the backend.
// Mutating operations serialize per product within this process; the backend
// exposes no atomic increment over its RPC interface, so cross-process races
// remain possible.
type InventoryService interface {
	// CheckStock looks up a product and returns its price and balance.
	// Read-only: never mutates remote state.
	CheckStock(ctx context.Context, item string) (*StockInfo, error)
	// MakeSale creates and confirms a one-line sale order. Confirmation is an
	// irreversible backend transition; if it fails after the line exists, one
	// best-effort cancel is attempted and the error is still returned.
	MakeSale(ctx context.Context, item string, qty int) (*SaleResult, error)
	// AddStock records a pending inventory delta of +qty for the product at
	// the first internal location and attempts to apply it. An apply fault is
	// absorbed into the result's ApplyStatus, never returned as an error.
	AddStock(ctx context.Context, item string, qty int) (*RestockResult, error)
}

type inventoryService struct {
	rpc   RPC
	locks productLocks
}

// NewInventoryService wraps an RPC connection with the domain operations.
func NewInventoryService(rpc RPC) InventoryService {
	return &inventoryService{rpc: rpc}
}

var productFields = []string{"name", "list_price", "virtual_available"}

// findProduct resolves an item name against the catalog. Resolution order:
// exact case-insensitive name match, then unique substring match. Several
// substring matches with no exact winner surface as *AmbiguousError instead
// of silently taking the first.
func (s *inventoryService) findProduct(ctx context.Context, item string) (*Product, error) {
	res, err := s.rpc.ExecuteKw(ctx, "product.product", "search",
		[]any{[]any{[]any{"name", "ilike", item}}},
		map[string]any{"limit": 10})
	if err != nil {
		return nil, err
	}
	ids := toIDs(res)
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	res, err = s.rpc.ExecuteKw(ctx, "product.product", "read",
		[]any{ids},
		map[string]any{"fields": productFields})
	if err != nil {
		return nil, err
	}
	records := toRecords(res)
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	var match map[string]any
	for _, rec := range records {
		if name, _ := rec["name"].(string); strings.EqualFold(name, item) {
			match = rec
			break
		}
	}
	if match == nil && len(records) == 1 {
		match = records[0]
	}
	if match == nil {
		ambErr := &AmbiguousError{Query: item}
		for _, rec := range records {
			if name, _ := rec["name"].(string); name != "" {
				ambErr.Candidates = append(ambErr.Candidates, name)
			}
			if len(ambErr.Candidates) == 5 {
				break
			}
		}
		return nil, ambErr
	}

	return productFromRecord(match), nil
}

// readProduct re-reads a product's fields by ID.
func (s *inventoryService) readProduct(ctx context.Context, id int64) (*Product, error) {
	res, err := s.rpc.ExecuteKw(ctx, "product.product", "read",
		[]any{[]any{id}},
		map[string]any{"fields": productFields})
	if err != nil {
		return nil, err
	}
	records := toRecords(res)
	if len(records) == 0 {
		return nil, fmt.Errorf("product %d: read returned no record", id)
	}
	return productFromRecord(records[0]), nil
}

func productFromRecord(rec map[string]any) *Product {
	p := &Product{}
	if id, ok := toInt64(rec["id"]); ok {
		p.ID = id
	}
	p.Name, _ = rec["name"].(string)
	if f, ok := toFloat64(rec["list_price"]); ok {
		p.ListPrice = decimal.NewFromFloat(f)
	}
	if f, ok := toFloat64(rec["virtual_available"]); ok {
		p.Available = decimal.NewFromFloat(f)
	}
	return p
}

// CheckStock resolves the product and returns its summary fields.
func (s *inventoryService) CheckStock(ctx context.Context, item string) (*StockInfo, error) {
	product, err := s.findProduct(ctx, item)
	if err != nil {
		return nil, err
	}
	return &StockInfo{
		Name:      product.Name,
		ListPrice: product.ListPrice,
		Available: product.Available,
	}, nil
}

// MakeSale performs the sale transaction: header against an arbitrary
// counterparty, one line, confirm, balance re-read.
func (s *inventoryService) MakeSale(ctx context.Context, item string, qty int) (*SaleResult, error) {
	product, err := s.findProduct(ctx, item)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(product.ID)
	defer unlock()

	// Any counterparty record will do: this shop sells over the counter and
	// keeps no per-customer records.
	res, err := s.rpc.ExecuteKw(ctx, "res.partner", "search",
		[]any{[]any{}}, map[string]any{"limit": 1})
	if err != nil {
		return nil, err
	}
	partnerIDs := toIDs(res)
	if len(partnerIDs) == 0 {
		return nil, fmt.Errorf("no counterparty record exists in the backend")
	}

	res, err = s.rpc.ExecuteKw(ctx, "sale.order", "create",
		[]any{map[string]any{"partner_id": partnerIDs[0]}}, nil)
	if err != nil {
		return nil, err
	}
	orderID, ok := toInt64(res)
	if !ok {
		return nil, fmt.Errorf("sale.order create returned %v", res)
	}

	_, err = s.rpc.ExecuteKw(ctx, "sale.order.line", "create",
		[]any{map[string]any{
			"order_id":        orderID,
			"product_id":      product.ID,
			"product_uom_qty": qty,
		}}, nil)
	if err != nil {
		s.cancelOrder(ctx, orderID)
		return nil, err
	}

	if _, err = s.rpc.ExecuteKw(ctx, "sale.order", "action_confirm",
		[]any{[]any{orderID}}, nil); err != nil {
		s.cancelOrder(ctx, orderID)
		return nil, err
	}

	after, err := s.readProduct(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	return &SaleResult{Item: product.Name, Qty: qty, Remaining: after.Available}, nil
}

// cancelOrder is the best-effort compensation for a sale that failed after
// the header was created. Its own failure is deliberately dropped: the caller
// is already returning the original error and the partial order stays
// inspectable in the backend.
func (s *inventoryService) cancelOrder(ctx context.Context, orderID int64) {
	_, _ = s.rpc.ExecuteKw(ctx, "sale.order", "action_cancel",
		[]any{[]any{orderID}}, nil)
}

// AddStock performs the restock transaction: locate or create the quantity
// record for (product, first internal location), set the pending delta,
// attempt to apply it, re-read the balance.
func (s *inventoryService) AddStock(ctx context.Context, item string, qty int) (*RestockResult, error) {
	product, err := s.findProduct(ctx, item)
	if err != nil {
		return nil, err
	}

	// Serializes the read-modify-write below against concurrent restocks of
	// the same product in this process.
	unlock := s.locks.lock(product.ID)
	defer unlock()

	res, err := s.rpc.ExecuteKw(ctx, "stock.location", "search",
		[]any{[]any{[]any{"usage", "=", "internal"}}},
		map[string]any{"limit": 1})
	if err != nil {
		return nil, err
	}
	locationIDs := toIDs(res)
	if len(locationIDs) == 0 {
		return nil, fmt.Errorf("no internal stock location exists in the backend")
	}
	locationID := locationIDs[0]

	res, err = s.rpc.ExecuteKw(ctx, "stock.quant", "search",
		[]any{[]any{
			[]any{"product_id", "=", product.ID},
			[]any{"location_id", "=", locationID},
		}}, nil)
	if err != nil {
		return nil, err
	}
	quantIDs := toIDs(res)

	var quantID int64
	if len(quantIDs) > 0 {
		quantID = quantIDs[0]
		res, err = s.rpc.ExecuteKw(ctx, "stock.quant", "read",
			[]any{[]any{quantID}},
			map[string]any{"fields": []string{"quantity"}})
		if err != nil {
			return nil, err
		}
		current := 0.0
		if records := toRecords(res); len(records) > 0 {
			current, _ = toFloat64(records[0]["quantity"])
		}
		_, err = s.rpc.ExecuteKw(ctx, "stock.quant", "write",
			[]any{[]any{quantID}, map[string]any{
				"inventory_quantity": current + float64(qty),
			}}, nil)
		if err != nil {
			return nil, err
		}
	} else {
		res, err = s.rpc.ExecuteKw(ctx, "stock.quant", "create",
			[]any{map[string]any{
				"product_id":         product.ID,
				"location_id":        locationID,
				"inventory_quantity": qty,
			}}, nil)
		if err != nil {
			return nil, err
		}
		quantID, _ = toInt64(res)
	}

	// Some backend configurations do not expose the apply action over RPC; a
	// fault leaves the delta pending rather than failing the restock. Only
	// application faults are absorbed; transport errors still fail.
	apply := ApplyApplied
	if _, err = s.rpc.ExecuteKw(ctx, "stock.quant", "action_apply_inventory",
		[]any{[]any{quantID}}, nil); err != nil {
		if !IsFault(err) {
			return nil, err
		}
		apply = ApplyUnsupported
	}

	after, err := s.readProduct(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	return &RestockResult{Item: product.Name, Qty: qty, Balance: after.Available, Apply: apply}, nil
}

// productLocks hands out one mutex per product ID. Entries are never
// reclaimed; the catalog of a small shop keeps the map tiny.
type productLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (p *productLocks) lock(productID int64) (unlock func()) {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[int64]*sync.Mutex)
	}
	l, ok := p.locks[productID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[productID] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
