package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kolo/xmlrpc"
)

// rpcCall records one ExecuteKw invocation.
type rpcCall struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

func (c rpcCall) key() string { return c.Model + "." + c.Method }

// fakeRPC scripts ExecuteKw responses per model.method and records every call.
type fakeRPC struct {
	mu       sync.Mutex
	calls    []rpcCall
	handlers map[string]func(call rpcCall) (any, error)
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{handlers: make(map[string]func(rpcCall) (any, error))}
}

func (f *fakeRPC) on(model, method string, fn func(rpcCall) (any, error)) {
	f.handlers[model+"."+method] = fn
}

func (f *fakeRPC) respond(model, method string, result any) {
	f.on(model, method, func(rpcCall) (any, error) { return result, nil })
}

func (f *fakeRPC) ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	call := rpcCall{Model: model, Method: method, Args: args, Kwargs: kwargs}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler := f.handlers[call.key()]
	f.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("unexpected call %s", call.key())
	}
	return handler(call)
}

func (f *fakeRPC) callsTo(model, method string) []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rpcCall
	for _, c := range f.calls {
		if c.Model == model && c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRPC) callSequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.key()
	}
	return out
}

// productRecord builds the field map "product.product".read returns.
func productRecord(id int64, name string, price, available float64) map[string]any {
	return map[string]any{
		"id": id, "name": name, "list_price": price, "virtual_available": available,
	}
}

// scriptCatalog wires product search+read for a single-product catalog.
func scriptCatalog(f *fakeRPC, id int64, name string, price, available float64) {
	f.respond("product.product", "search", []any{id})
	f.respond("product.product", "read", []any{productRecord(id, name, price, available)})
}

func TestMakeSale_IssuesFullTransaction(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Bread", 50, 20)
	rpc.respond("res.partner", "search", []any{int64(7)})
	rpc.respond("sale.order", "create", int64(100))
	rpc.respond("sale.order.line", "create", int64(200))
	rpc.respond("sale.order", "action_confirm", true)

	svc := NewInventoryService(rpc)
	res, err := svc.MakeSale(context.Background(), "Bread", 5)
	if err != nil {
		t.Fatalf("MakeSale: %v", err)
	}
	if res.Item != "Bread" || res.Qty != 5 {
		t.Errorf("result = %+v, want Bread x5", res)
	}
	if res.Remaining.String() != "20" {
		t.Errorf("remaining = %s, want 20 (from re-read)", res.Remaining)
	}

	wantSeq := []string{
		"product.product.search",
		"product.product.read",
		"res.partner.search",
		"sale.order.create",
		"sale.order.line.create",
		"sale.order.action_confirm",
		"product.product.read",
	}
	gotSeq := rpc.callSequence()
	if len(gotSeq) != len(wantSeq) {
		t.Fatalf("call sequence = %v, want %v", gotSeq, wantSeq)
	}
	for i := range wantSeq {
		if gotSeq[i] != wantSeq[i] {
			t.Fatalf("call %d = %s, want %s (full: %v)", i, gotSeq[i], wantSeq[i], gotSeq)
		}
	}

	orderCreate := rpc.callsTo("sale.order", "create")[0]
	fields, _ := orderCreate.Args[0].(map[string]any)
	if fields["partner_id"] != int64(7) {
		t.Errorf("order partner_id = %v, want 7", fields["partner_id"])
	}
	lineCreate := rpc.callsTo("sale.order.line", "create")[0]
	fields, _ = lineCreate.Args[0].(map[string]any)
	if fields["product_id"] != int64(42) || fields["product_uom_qty"] != 5 {
		t.Errorf("line fields = %v, want product 42 qty 5", fields)
	}
}

func TestMakeSale_NotFoundHasNoSideEffects(t *testing.T) {
	rpc := newFakeRPC()
	rpc.respond("product.product", "search", []any{})

	svc := NewInventoryService(rpc)
	_, err := svc.MakeSale(context.Background(), "Ghost", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if n := len(rpc.callsTo("sale.order", "create")); n != 0 {
		t.Errorf("order create called %d times after a failed lookup", n)
	}
}

func TestMakeSale_FailedConfirmTriggersOneCancel(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Bread", 50, 20)
	rpc.respond("res.partner", "search", []any{int64(7)})
	rpc.respond("sale.order", "create", int64(100))
	rpc.respond("sale.order.line", "create", int64(200))
	rpc.on("sale.order", "action_confirm", func(rpcCall) (any, error) {
		return nil, xmlrpc.FaultError{Code: 1, String: "ValidationError: cannot confirm"}
	})
	rpc.respond("sale.order", "action_cancel", true)

	svc := NewInventoryService(rpc)
	_, err := svc.MakeSale(context.Background(), "Bread", 2)
	if err == nil {
		t.Fatal("expected confirm failure to surface")
	}

	cancels := rpc.callsTo("sale.order", "action_cancel")
	if len(cancels) != 1 {
		t.Fatalf("action_cancel called %d times, want 1", len(cancels))
	}
	ids, _ := cancels[0].Args[0].([]any)
	if len(ids) != 1 || ids[0] != int64(100) {
		t.Errorf("cancel args = %v, want order 100", cancels[0].Args)
	}
}

func TestCheckStock_NeverMutates(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Milk", 65, 12)

	svc := NewInventoryService(rpc)
	for i := 0; i < 3; i++ {
		info, err := svc.CheckStock(context.Background(), "Milk")
		if err != nil {
			t.Fatalf("CheckStock: %v", err)
		}
		if info.Name != "Milk" || info.ListPrice.String() != "65" || info.Available.String() != "12" {
			t.Errorf("info = %+v", info)
		}
	}
	for _, c := range rpc.callSequence() {
		if c != "product.product.search" && c != "product.product.read" {
			t.Errorf("lookup issued mutating call %s", c)
		}
	}
}

func TestAddStock_ExistingRecordAddsToCurrentQuantity(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Sugar", 120, 16)
	rpc.respond("stock.location", "search", []any{int64(8)})
	rpc.respond("stock.quant", "search", []any{int64(13)})
	rpc.respond("stock.quant", "read", []any{map[string]any{"quantity": float64(3)}})
	rpc.respond("stock.quant", "write", true)
	rpc.respond("stock.quant", "action_apply_inventory", true)

	svc := NewInventoryService(rpc)
	res, err := svc.AddStock(context.Background(), "Sugar", 10)
	if err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if res.Apply != ApplyApplied {
		t.Errorf("apply status = %s, want %s", res.Apply, ApplyApplied)
	}
	// The reported balance comes from the post-adjustment read, not from the
	// locally computed 13.
	if res.Balance.String() != "16" {
		t.Errorf("balance = %s, want 16", res.Balance)
	}

	writes := rpc.callsTo("stock.quant", "write")
	if len(writes) != 1 {
		t.Fatalf("write called %d times, want 1", len(writes))
	}
	fields, _ := writes[0].Args[1].(map[string]any)
	if fields["inventory_quantity"] != float64(13) {
		t.Errorf("inventory_quantity = %v, want 13 (3 current + 10 requested)", fields["inventory_quantity"])
	}
	if n := len(rpc.callsTo("stock.quant", "create")); n != 0 {
		t.Errorf("create called %d times when a record already existed", n)
	}
}

func TestAddStock_NoRecordCreatesOne(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Sugar", 120, 10)
	rpc.respond("stock.location", "search", []any{int64(8)})
	rpc.respond("stock.quant", "search", []any{})
	rpc.respond("stock.quant", "create", int64(77))
	rpc.respond("stock.quant", "action_apply_inventory", true)

	svc := NewInventoryService(rpc)
	if _, err := svc.AddStock(context.Background(), "Sugar", 4); err != nil {
		t.Fatalf("AddStock: %v", err)
	}

	creates := rpc.callsTo("stock.quant", "create")
	if len(creates) != 1 {
		t.Fatalf("create called %d times, want 1", len(creates))
	}
	fields, _ := creates[0].Args[0].(map[string]any)
	if fields["product_id"] != int64(42) || fields["location_id"] != int64(8) || fields["inventory_quantity"] != 4 {
		t.Errorf("create fields = %v", fields)
	}
	applies := rpc.callsTo("stock.quant", "action_apply_inventory")
	if len(applies) != 1 {
		t.Fatalf("apply called %d times, want 1", len(applies))
	}
	ids, _ := applies[0].Args[0].([]any)
	if len(ids) != 1 || ids[0] != int64(77) {
		t.Errorf("apply targeted %v, want the created record 77", applies[0].Args)
	}
}

func TestAddStock_ApplyFaultIsAbsorbedAsUnsupported(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Sugar", 120, 10)
	rpc.respond("stock.location", "search", []any{int64(8)})
	rpc.respond("stock.quant", "search", []any{})
	rpc.respond("stock.quant", "create", int64(77))
	rpc.on("stock.quant", "action_apply_inventory", func(rpcCall) (any, error) {
		return nil, fmt.Errorf("backend stock.quant.action_apply_inventory: %w",
			xmlrpc.FaultError{Code: 2, String: "no method action_apply_inventory"})
	})

	svc := NewInventoryService(rpc)
	res, err := svc.AddStock(context.Background(), "Sugar", 4)
	if err != nil {
		t.Fatalf("AddStock should absorb the apply fault, got %v", err)
	}
	if res.Apply != ApplyUnsupported {
		t.Errorf("apply status = %s, want %s", res.Apply, ApplyUnsupported)
	}
	if res.Balance.String() != "10" {
		t.Errorf("balance = %s, want the re-read value 10", res.Balance)
	}
}

func TestAddStock_ApplyTransportErrorStillFails(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Sugar", 120, 10)
	rpc.respond("stock.location", "search", []any{int64(8)})
	rpc.respond("stock.quant", "search", []any{})
	rpc.respond("stock.quant", "create", int64(77))
	rpc.on("stock.quant", "action_apply_inventory", func(rpcCall) (any, error) {
		return nil, errors.New("connection reset")
	})

	svc := NewInventoryService(rpc)
	if _, err := svc.AddStock(context.Background(), "Sugar", 4); err == nil {
		t.Fatal("transport error during apply must fail the restock")
	}
}

func TestFindProduct_ExactMatchBeatsSubstring(t *testing.T) {
	rpc := newFakeRPC()
	rpc.respond("product.product", "search", []any{int64(1), int64(2)})
	rpc.respond("product.product", "read", []any{
		productRecord(1, "Breadcrumbs", 80, 5),
		productRecord(2, "Bread", 50, 20),
	})

	svc := NewInventoryService(rpc)
	info, err := svc.CheckStock(context.Background(), "bread")
	if err != nil {
		t.Fatalf("CheckStock: %v", err)
	}
	if info.Name != "Bread" {
		t.Errorf("resolved %q, want the exact match Bread", info.Name)
	}
}

func TestFindProduct_MultipleSubstringMatchesAreAmbiguous(t *testing.T) {
	rpc := newFakeRPC()
	rpc.respond("product.product", "search", []any{int64(1), int64(2), int64(3)})
	rpc.respond("product.product", "read", []any{
		productRecord(1, "Blue Band 250g", 90, 4),
		productRecord(2, "Blue Band 500g", 160, 2),
		productRecord(3, "Blue Band 1kg", 300, 1),
	})

	svc := NewInventoryService(rpc)
	_, err := svc.CheckStock(context.Background(), "Blue Band")
	var ambErr *AmbiguousError
	if !errors.As(err, &ambErr) {
		t.Fatalf("err = %v, want *AmbiguousError", err)
	}
	if len(ambErr.Candidates) != 3 {
		t.Errorf("candidates = %v, want 3 names", ambErr.Candidates)
	}
}

// Two concurrent restocks of a product with no existing quantity record must
// not both observe "absent" and create duplicate records: the per-product
// lock serializes them, so the second sees the first one's record.
func TestAddStock_ConcurrentRestocksCreateOneRecord(t *testing.T) {
	rpc := newFakeRPC()
	scriptCatalog(rpc, 42, "Sugar", 120, 10)
	rpc.respond("stock.location", "search", []any{int64(8)})
	rpc.respond("stock.quant", "read", []any{map[string]any{"quantity": float64(4)}})
	rpc.respond("stock.quant", "write", true)
	rpc.respond("stock.quant", "action_apply_inventory", true)

	var quantMu sync.Mutex
	created := false
	rpc.on("stock.quant", "search", func(rpcCall) (any, error) {
		quantMu.Lock()
		defer quantMu.Unlock()
		if created {
			return []any{int64(13)}, nil
		}
		return []any{}, nil
	})
	rpc.on("stock.quant", "create", func(rpcCall) (any, error) {
		quantMu.Lock()
		defer quantMu.Unlock()
		created = true
		return int64(13), nil
	})

	svc := NewInventoryService(rpc)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddStock(context.Background(), "Sugar", 4); err != nil {
				t.Errorf("AddStock: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(rpc.callsTo("stock.quant", "create")); n != 1 {
		t.Errorf("create called %d times, want 1; concurrent restocks must serialize", n)
	}
	if n := len(rpc.callsTo("stock.quant", "write")); n != 1 {
		t.Errorf("write called %d times, want 1 (the second restock updates the first record)", n)
	}
}
