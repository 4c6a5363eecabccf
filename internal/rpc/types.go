// Package rpc hosts the JSON-RPC 2.0 dispatcher that maps the wire protocol
// onto the negotiation engine, the estimator, and the task handler.
package rpc

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JsonRpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JsonRpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

// MethodHandler is one dispatchable protocol method.
type MethodHandler interface {
	Handle(ctx context.Context, params json.RawMessage) (interface{}, *Error)
}

// MethodFunc adapts a function to MethodHandler.
type MethodFunc func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// Handle implements MethodHandler.
func (f MethodFunc) Handle(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	return f(ctx, params)
}

// MethodRegistry maps method names to handlers.
type MethodRegistry struct {
	methods map[string]MethodHandler
}

// NewMethodRegistry creates an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{methods: make(map[string]MethodHandler)}
}

// Register binds a handler to a method name.
func (r *MethodRegistry) Register(name string, handler MethodHandler) {
	r.methods[name] = handler
}

// Get looks up a handler.
func (r *MethodRegistry) Get(name string) (MethodHandler, bool) {
	handler, exists := r.methods[name]
	return handler, exists
}

// List returns the registered method names.
func (r *MethodRegistry) List() []string {
	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	return methods
}

// wireOffer is the buyer's offer object shared by propose and counter.
type wireOffer struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Network  string          `json:"network,omitempty"`
}

type proposeParams struct {
	Capability   string                 `json:"capability"`
	Input        map[string]interface{} `json:"input"`
	JobID        string                 `json:"job_id"`
	Offer        *wireOffer             `json:"offer"`
	BuyerAddress string                 `json:"buyer_address,omitempty"`
	EstimateID   string                 `json:"estimate_id,omitempty"`
}

type counterParams struct {
	JobID string                 `json:"job_id"`
	Offer *wireOffer             `json:"offer"`
	Round int                    `json:"round,omitempty"`
	Input map[string]interface{} `json:"input"`
}

type acceptParams struct {
	JobID string                 `json:"job_id"`
	Terms *wireOffer             `json:"terms"`
	Input map[string]interface{} `json:"input"`
}

type estimateParams struct {
	Capability string                 `json:"capability,omitempty"`
	Input      map[string]interface{} `json:"input"`
}

// num renders a decimal as a bare JSON number with two fractional digits.
func num(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func terms(amount decimal.Decimal, currency string) map[string]interface{} {
	return map[string]interface{}{
		"amount":   num(amount),
		"currency": currency,
	}
}
