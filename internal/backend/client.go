package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kolo/xmlrpc"
)

// Config carries the backend connection settings, handed in at construction.
type Config struct {
	URL      string // base URL, e.g. http://localhost:8069
	Database string
	Username string
	Password string
}

// Client talks XML-RPC to an Odoo-style backend: authentication against the
// common endpoint, object operations against the object endpoint. The
// authenticated uid is cached for the lifetime of the client and refreshed
// once when a call fails with an authentication fault.
type Client struct {
	cfg    Config
	common *xmlrpc.Client
	object *xmlrpc.Client

	mu  sync.Mutex
	uid int64 // 0 = not authenticated yet
}

// NewClient builds a Client for the given backend. It does not dial or
// authenticate; the first call does.
func NewClient(cfg Config) (*Client, error) {
	common, err := xmlrpc.NewClient(cfg.URL+"/xmlrpc/2/common", nil)
	if err != nil {
		return nil, fmt.Errorf("backend common endpoint: %w", err)
	}
	object, err := xmlrpc.NewClient(cfg.URL+"/xmlrpc/2/object", nil)
	if err != nil {
		return nil, fmt.Errorf("backend object endpoint: %w", err)
	}
	return &Client{cfg: cfg, common: common, object: object}, nil
}

// Close releases both endpoint connections.
func (c *Client) Close() {
	_ = c.common.Close()
	_ = c.object.Close()
}

// Version asks the common endpoint for server version info. Used by the
// connectivity check; requires no authentication.
func (c *Client) Version(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out any
	if err := c.common.Call("version", nil, &out); err != nil {
		return nil, fmt.Errorf("backend version: %w", err)
	}
	m, _ := out.(map[string]any)
	return m, nil
}

// session returns the cached uid, authenticating if none is held.
func (c *Client) session(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}
	uid, err := c.authenticate(ctx)
	if err != nil {
		return 0, err
	}
	c.uid = uid
	return uid, nil
}

// invalidate drops the cached uid so the next call re-authenticates.
func (c *Client) invalidate() {
	c.mu.Lock()
	c.uid = 0
	c.mu.Unlock()
}

func (c *Client) authenticate(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var out any
	args := []any{c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]any{}}
	if err := c.common.Call("authenticate", args, &out); err != nil {
		return 0, fmt.Errorf("backend authenticate: %w", err)
	}
	// A failed login comes back as boolean false, not a fault.
	uid, ok := toInt64(out)
	if !ok || uid == 0 {
		return 0, fmt.Errorf("backend authenticate: invalid credentials for %q on %q", c.cfg.Username, c.cfg.Database)
	}
	return uid, nil
}

// ExecuteKw invokes one object-endpoint operation: execute_kw(db, uid,
// password, model, method, args, kwargs). kwargs may be nil. When the call
// fails with an authentication-shaped fault the session is invalidated,
// re-established, and the call retried exactly once.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	out, err := c.executeOnce(ctx, model, method, args, kwargs)
	if err != nil && isAuthFault(err) {
		c.invalidate()
		out, err = c.executeOnce(ctx, model, method, args, kwargs)
	}
	if err != nil {
		return nil, fmt.Errorf("backend %s.%s: %w", model, method, err)
	}
	return out, nil
}

func (c *Client) executeOnce(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	uid, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := []any{c.cfg.Database, uid, c.cfg.Password, model, method, args}
	if kwargs != nil {
		params = append(params, kwargs)
	}
	var out any
	if err := c.object.Call("execute_kw", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// isAuthFault reports whether err is a backend fault caused by a stale or
// rejected session rather than by the operation itself.
func isAuthFault(err error) bool {
	var fault xmlrpc.FaultError
	if !errors.As(err, &fault) {
		return false
	}
	s := strings.ToLower(fault.String)
	return strings.Contains(s, "accessdenied") ||
		strings.Contains(s, "access denied") ||
		strings.Contains(s, "session expired")
}

// IsFault reports whether err wraps an XML-RPC application fault, as opposed
// to a transport failure.
func IsFault(err error) bool {
	var fault xmlrpc.FaultError
	return errors.As(err, &fault)
}

// ── value coercion ────────────────────────────────────────────────────────────
// XML-RPC decoding lands on int64/float64/bool/string; backends are loose
// about which numeric type a field uses, and absent values decode as false.

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func toIDs(v any) []int64 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		if id, ok := toInt64(item); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func toRecords(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records
}
