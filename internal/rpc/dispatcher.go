package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexprotocol/apexd/internal/agent"
	"github.com/apexprotocol/apexd/internal/estimate"
	"github.com/apexprotocol/apexd/internal/metrics"
	"github.com/apexprotocol/apexd/internal/negotiation"
	"github.com/apexprotocol/apexd/internal/pricing"
)

// Method names accepted on the wire.
const (
	MethodDiscover = "apex/discover"
	MethodEstimate = "apex/estimate"
	MethodPropose  = "apex/propose"
	MethodCounter  = "apex/counter"
	MethodAccept   = "apex/accept"
)

// job is one live negotiation. The engine is not safe for concurrent use, so
// every access happens under the job's own mutex; the dispatcher's map lock
// only covers insertion, lookup and removal.
type job struct {
	mu     sync.Mutex
	engine *negotiation.Engine
	done   bool
}

// Dispatcher routes protocol methods onto the agent's pricing, the
// estimator, and the per-job negotiation engines.
type Dispatcher struct {
	agent     *agent.Agent
	estimator *estimate.Estimator
	estimates *estimate.Cache
	advisor   negotiation.Advisor
	registry  *MethodRegistry
	log       *zap.Logger
	clock     func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

// DispatcherConfig assembles a Dispatcher.
type DispatcherConfig struct {
	Agent     *agent.Agent
	Estimator *estimate.Estimator
	Advisor   negotiation.Advisor
	Logger    *zap.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewDispatcher builds a dispatcher and registers the protocol methods.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	d := &Dispatcher{
		agent:     cfg.Agent,
		estimator: cfg.Estimator,
		estimates: estimate.NewCache(estimate.TTL),
		advisor:   cfg.Advisor,
		registry:  NewMethodRegistry(),
		log:       log.Named("rpc"),
		clock:     clock,
		jobs:      make(map[string]*job),
	}

	d.registry.Register(MethodDiscover, MethodFunc(d.discover))
	d.registry.Register(MethodEstimate, MethodFunc(d.estimate))
	d.registry.Register(MethodPropose, MethodFunc(d.propose))
	d.registry.Register(MethodCounter, MethodFunc(d.counter))
	d.registry.Register(MethodAccept, MethodFunc(d.accept))

	return d
}

// Dispatch executes one JSON-RPC request and builds its response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	resp := &Response{JsonRpc: "2.0", ID: req.ID}

	handler, ok := d.registry.Get(req.Method)
	if !ok {
		resp.Error = errMethodNotFound(req.Method)
		metrics.RPCRequests.WithLabelValues(req.Method, "method_not_found").Inc()
		return resp
	}

	result, rpcErr := handler.Handle(ctx, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		metrics.RPCRequests.WithLabelValues(req.Method, "error").Inc()
		d.log.Debug("method failed",
			zap.String("method", req.Method),
			zap.Int("code", rpcErr.Code),
			zap.String("message", rpcErr.Message))
		return resp
	}

	resp.Result = result
	metrics.RPCRequests.WithLabelValues(req.Method, "ok").Inc()
	return resp
}

// discover returns the agent's identity, capabilities and payment
// coordinates.
func (d *Dispatcher) discover(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	a := d.agent

	caps := make([]map[string]interface{}, 0, len(a.Capabilities))
	for _, c := range a.Capabilities {
		caps = append(caps, map[string]interface{}{
			"id":      c,
			"name":    c,
			"pricing": a.Pricing.Wire(),
		})
	}

	return map[string]interface{}{
		"agent": map[string]interface{}{
			"id":          a.ID,
			"name":        a.Name,
			"description": a.Description,
		},
		"capabilities": caps,
		"payment": map[string]interface{}{
			"networks":   a.Networks,
			"currencies": a.Currencies,
			"address":    a.Address,
		},
	}, nil
}

// estimate prices a task against base-mode negotiated pricing and caches the
// result for a later propose.
func (d *Dispatcher) estimate(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p estimateParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errInvalidParams("malformed params: " + err.Error())
		}
	}

	neg, ok := d.agent.Pricing.(*pricing.Negotiated)
	if !ok || !neg.RequiresEstimation() {
		return nil, errNotNegotiable()
	}

	capability := p.Capability
	if capability == "" && len(d.agent.Capabilities) > 0 {
		capability = d.agent.Capabilities[0]
	}

	r := d.estimator.Estimate(ctx, *neg.Base, p.Input, neg.Instructions, capability)
	d.estimates.Store(r)
	metrics.EstimatesIssued.Inc()

	factors := make([]map[string]interface{}, 0, len(r.Factors))
	for _, f := range r.Factors {
		factors = append(factors, map[string]interface{}{"name": f.Name, "value": f.Value})
	}

	return map[string]interface{}{
		"status":      "estimated",
		"estimate_id": r.ID,
		"expires_at":  r.ExpiresAt.UTC().Format(time.RFC3339),
		"estimate": map[string]interface{}{
			"amount":   num(r.Amount),
			"minimum":  num(r.Minimum),
			"currency": r.Currency,
		},
		"negotiation": map[string]interface{}{
			"target": num(r.Amount),
			"floor":  num(r.Minimum),
		},
		"factors":   factors,
		"reasoning": r.Reasoning,
	}, nil
}

// propose opens (or advances) a negotiation, or settles immediately against
// fixed pricing.
func (d *Dispatcher) propose(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p proposeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams("malformed params: " + err.Error())
	}
	if p.JobID == "" {
		return nil, errInvalidParams("job_id is required")
	}
	if p.Offer == nil {
		return nil, errInvalidParams("offer is required")
	}
	if p.Capability != "" && !d.agent.HasCapability(p.Capability) {
		return nil, errInvalidParams("unknown capability: " + p.Capability)
	}

	switch pr := d.agent.Pricing.(type) {
	case *pricing.Fixed:
		return d.proposeFixed(ctx, &p, pr)
	case *pricing.Negotiated:
		return d.proposeNegotiated(ctx, &p, pr)
	default:
		return nil, errInternal("unsupported pricing model")
	}
}

func (d *Dispatcher) proposeFixed(ctx context.Context, p *proposeParams, pr *pricing.Fixed) (interface{}, *Error) {
	if p.Offer.Amount.LessThan(pr.Amount) {
		return nil, errFixedUnderbid(pr.Amount.StringFixed(2), pr.Currency)
	}

	output, rpcErr := d.runHandler(ctx, p.Input)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return map[string]interface{}{
		"status": "completed",
		"job_id": p.JobID,
		"terms":  terms(pr.Amount, pr.Currency),
		"output": output,
	}, nil
}

func (d *Dispatcher) proposeNegotiated(ctx context.Context, p *proposeParams, pr *pricing.Negotiated) (interface{}, *Error) {
	j, rpcErr := d.findOrCreateJob(p, pr)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return d.advance(ctx, p.JobID, j, p.Offer.Amount, p.Input)
}

// counter advances an existing negotiation with the buyer's next offer.
func (d *Dispatcher) counter(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p counterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams("malformed params: " + err.Error())
	}
	if p.Offer == nil {
		return nil, errInvalidParams("offer is required")
	}
	if _, ok := d.agent.Pricing.(*pricing.Negotiated); !ok {
		return nil, errNotNegotiable()
	}

	j := d.findJob(p.JobID)
	if j == nil {
		return nil, errUnknownJob(p.JobID)
	}
	return d.advance(ctx, p.JobID, j, p.Offer.Amount, p.Input)
}

// accept settles a negotiation on the seller's standing counter and runs the
// handler.
func (d *Dispatcher) accept(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p acceptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams("malformed params: " + err.Error())
	}
	if p.Terms == nil {
		return nil, errInvalidParams("terms are required")
	}
	if _, ok := d.agent.Pricing.(*pricing.Negotiated); !ok {
		return nil, errNotNegotiable()
	}

	j := d.findJob(p.JobID)
	if j == nil {
		return nil, errUnknownJob(p.JobID)
	}

	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return nil, errUnknownJob(p.JobID)
	}
	j.engine.AcceptTerms(p.Terms.Amount)
	currency := j.engine.Currency()
	j.done = true
	j.mu.Unlock()

	d.removeJob(p.JobID)
	metrics.NegotiationsFinished.WithLabelValues(string(negotiation.StateAccepted)).Inc()

	output, rpcErr := d.runHandler(ctx, p.Input)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return map[string]interface{}{
		"status": "completed",
		"job_id": p.JobID,
		"terms":  terms(p.Terms.Amount, currency),
		"output": output,
	}, nil
}

// advance feeds one buyer offer to the job's engine and translates the
// resulting state to the wire.
func (d *Dispatcher) advance(ctx context.Context, jobID string, j *job, price decimal.Decimal, input map[string]interface{}) (interface{}, *Error) {
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return nil, errUnknownJob(jobID)
	}

	state, offer := j.engine.ReceiveOffer(ctx, price)
	currency := j.engine.Currency()
	maxRounds := j.engine.MaxRounds()
	if state.Terminal() {
		// Marked under the same lock acquisition as the engine call so a
		// concurrent request can never act on the finished engine.
		j.done = true
	}
	j.mu.Unlock()

	switch state {
	case negotiation.StateInProgress:
		result := map[string]interface{}{
			"status":     "counter",
			"job_id":     jobID,
			"offer":      terms(offer.Price, currency),
			"round":      offer.Round,
			"max_rounds": maxRounds,
		}
		if offer.Reason != "" {
			result["reason"] = offer.Reason
		}
		return result, nil

	case negotiation.StateAccepted:
		// The engine leaves the jobs map before the handler runs so the
		// per-job lock is never held across task execution.
		d.removeJob(jobID)
		metrics.NegotiationsFinished.WithLabelValues(string(state)).Inc()

		output, rpcErr := d.runHandler(ctx, input)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return map[string]interface{}{
			"status": "completed",
			"job_id": jobID,
			"terms":  terms(price, currency),
			"output": output,
		}, nil

	case negotiation.StateExpired:
		d.removeJob(jobID)
		metrics.NegotiationsFinished.WithLabelValues(string(state)).Inc()
		return nil, errExpired()

	default: // StateRejected
		d.removeJob(jobID)
		metrics.NegotiationsFinished.WithLabelValues(string(state)).Inc()
		return nil, errRejected()
	}
}

// findOrCreateJob resolves the estimate (base mode) and builds the engine on
// first propose; later proposes with the same job_id reuse the live engine.
func (d *Dispatcher) findOrCreateJob(p *proposeParams, pr *pricing.Negotiated) (*job, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if j, ok := d.jobs[p.JobID]; ok {
		return j, nil
	}

	var bounds *negotiation.Bounds
	if pr.RequiresEstimation() {
		if p.EstimateID == "" {
			return nil, errInvalidParams("estimate_id is required for this pricing")
		}
		r := d.estimates.Get(p.EstimateID)
		if r == nil {
			return nil, errInvalidParams("unknown or expired estimate_id: " + p.EstimateID)
		}
		d.estimates.Remove(p.EstimateID)
		bounds = &negotiation.Bounds{Target: r.Amount, Minimum: r.Minimum}
	}

	engine, err := negotiation.New(negotiation.Config{
		Pricing: pr,
		Bounds:  bounds,
		Task:    taskContext(p.Input),
		Advisor: d.advisor,
		Logger:  d.log,
		Clock:   d.clock,
	})
	if err != nil {
		return nil, errInternal(err.Error())
	}

	j := &job{engine: engine}
	d.jobs[p.JobID] = j
	metrics.NegotiationsStarted.Inc()
	d.log.Info("negotiation started",
		zap.String("job_id", p.JobID),
		zap.String("buyer", p.BuyerAddress))
	return j, nil
}

func (d *Dispatcher) findJob(jobID string) *job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[jobID]
}

func (d *Dispatcher) removeJob(jobID string) {
	d.mu.Lock()
	delete(d.jobs, jobID)
	d.mu.Unlock()
}

// runHandler executes the agent's task handler under its timeout.
func (d *Dispatcher) runHandler(ctx context.Context, input map[string]interface{}) (map[string]interface{}, *Error) {
	if d.agent.Handler == nil {
		return map[string]interface{}{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.agent.HandlerTimeout)
	defer cancel()

	start := time.Now()
	output, err := d.agent.Handler.Run(ctx, input)
	metrics.HandlerDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.log.Error("handler failed", zap.Error(err))
		return nil, errInternal("handler failed: " + err.Error())
	}
	return output, nil
}

// taskContext surfaces the buyer's task description to the LLM advisor.
func taskContext(input map[string]interface{}) *negotiation.TaskContext {
	if input == nil {
		return nil
	}
	for _, key := range []string{"topic", "query", "task"} {
		if v, ok := input[key].(string); ok && v != "" {
			return &negotiation.TaskContext{Description: v}
		}
	}
	return nil
}
