package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/tildaslashalef/odoosync/internal/loggy"
)

// Config holds connection settings for the remote server.
type Config struct {
	URL      string
	Database string
	Username string
	APIKey   string

	Timeout    time.Duration
	MaxRetries int

	// Rate limiting for outbound calls
	RequestsPerMinute int
	BurstLimit        int
}

// Client speaks JSON-RPC to an Odoo-style server.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *loggy.Logger

	mu      sync.Mutex
	session *Session
	reqID   atomic.Int64
}

// NewClient creates a client for the given server configuration.
func NewClient(cfg Config, logger *loggy.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}
	burst := cfg.BurstLimit
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		logger:  logger,
	}
}

// rpcRequest is the JSON-RPC envelope for a call.
type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcFault       `json:"error"`
}

type rpcFault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Debug   string `json:"debug"`
	} `json:"data"`
}

// Authenticate logs in and caches the session for subsequent object calls.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	result, err := c.call(ctx, "common", "authenticate",
		[]any{c.cfg.Database, c.cfg.Username, c.cfg.APIKey, map[string]any{}})
	if err != nil {
		return nil, err
	}

	var uid int64
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		// The server reports bad credentials as a false result, not a fault.
		return nil, &RPCError{
			Kind:    KindAuth,
			Method:  "authenticate",
			Message: "invalid credentials",
		}
	}

	session := &Session{UID: uid, Database: c.cfg.Database, Login: c.cfg.Username}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.logger.Info("authenticated with remote server", "uid", uid, "database", c.cfg.Database)
	return session, nil
}

// Session returns the cached session, authenticating first if needed.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != nil {
		return session, nil
	}
	return c.Authenticate(ctx)
}

// ExecuteKw invokes model.method on the server and decodes the result into out.
// Pass a nil out to discard the result.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	session, err := c.Session(ctx)
	if err != nil {
		return err
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}

	callArgs := []any{c.cfg.Database, session.UID, c.cfg.APIKey, model, method, args, kwargs}
	result, err := c.call(ctx, "object", "execute_kw", callArgs)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Model == "" {
			rpcErr.Model = model
			rpcErr.Method = method
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return &RPCError{
			Kind:    KindSerialization,
			Model:   model,
			Method:  method,
			Message: "cannot decode server response",
			Detail:  err.Error(),
		}
	}
	return nil
}

// SearchCount returns the number of records matching the domain.
func (c *Client) SearchCount(ctx context.Context, model string, domain Domain) (int, error) {
	var count int
	if err := c.ExecuteKw(ctx, model, "search_count", []any{domainArg(domain)}, nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// SearchRead queries records matching the domain with the given options.
func (c *Client) SearchRead(ctx context.Context, model string, domain Domain, opts QueryOptions) ([]Record, error) {
	kwargs := map[string]any{}
	if len(opts.Fields) > 0 {
		kwargs["fields"] = opts.Fields
	}
	if opts.Limit > 0 {
		kwargs["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		kwargs["offset"] = opts.Offset
	}
	if opts.Order != "" {
		kwargs["order"] = opts.Order
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var records []Record
	if err := c.ExecuteKw(ctx, model, "search_read", []any{domainArg(domain)}, kwargs, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListModels enumerates the server's model registry.
func (c *Client) ListModels(ctx context.Context) ([]RawModelInfo, error) {
	kwargs := map[string]any{
		"fields": []string{"model", "name", "info", "transient", "abstract", "state"},
	}
	var models []RawModelInfo
	if err := c.ExecuteKw(ctx, "ir.model", "search_read", []any{[]any{}}, kwargs, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// FieldsGet fetches the field metadata for a model.
func (c *Client) FieldsGet(ctx context.Context, model string) (map[string]FieldInfo, error) {
	kwargs := map[string]any{
		"attributes": []string{"string", "type", "store", "required", "readonly", "relation"},
	}
	var fields map[string]FieldInfo
	if err := c.ExecuteKw(ctx, model, "fields_get", []any{}, kwargs, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// call performs one JSON-RPC exchange with transient-failure retry.
func (c *Client) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var result json.RawMessage
	operation := func() error {
		res, err := c.callOnce(ctx, service, method, args)
		if err != nil {
			// Only transport-level failures are worth retrying; server
			// faults will fail the same way every time.
			switch KindOf(err) {
			case KindConnectivity, KindTimeout:
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		result = res
		return nil
	}

	maxRetries := c.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) callOnce(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.reqID.Add(1),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.cfg.URL + "/jsonrpc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RPCError{
			Kind:    connectivityKind(ctx, err),
			Method:  method,
			Message: "request failed",
			Detail:  err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RPCError{
			Kind:    KindConnectivity,
			Method:  method,
			Message: "reading response",
			Detail:  err.Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := KindServer
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindAuth
		}
		return nil, &RPCError{
			Kind:    kind,
			Method:  method,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, &RPCError{
			Kind:    KindSerialization,
			Method:  method,
			Message: "malformed JSON-RPC response",
			Detail:  err.Error(),
		}
	}

	if rpcResp.Error != nil {
		fault := rpcResp.Error
		msg := fault.Data.Message
		if msg == "" {
			msg = fault.Message
		}
		return nil, &RPCError{
			Kind:    classifyFault(fault.Data.Name, msg),
			Method:  method,
			Message: msg,
			Detail:  fault.Data.Name,
		}
	}

	return rpcResp.Result, nil
}

func connectivityKind(ctx context.Context, err error) ErrorKind {
	if ctx.Err() == context.DeadlineExceeded || KindOf(err) == KindTimeout {
		return KindTimeout
	}
	return KindConnectivity
}

// domainArg normalizes a domain into the JSON array shape the server expects.
// A nil domain must serialize as [] rather than null.
func domainArg(domain Domain) []Condition {
	if domain == nil {
		return []Condition{}
	}
	return domain
}
