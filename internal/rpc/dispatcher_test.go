package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexprotocol/apexd/internal/agent"
	"github.com/apexprotocol/apexd/internal/estimate"
	"github.com/apexprotocol/apexd/internal/llm"
	"github.com/apexprotocol/apexd/internal/negotiation"
	"github.com/apexprotocol/apexd/internal/pricing"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// rejectAdvisor always advises walking away; floor protection must override
// it for offers at or above the minimum.
type rejectAdvisor struct{}

func (rejectAdvisor) Decide(context.Context, negotiation.Situation) (negotiation.Decision, error) {
	return negotiation.Decision{Action: negotiation.DecideReject}, nil
}

func (rejectAdvisor) CounterReason(context.Context, negotiation.Situation, decimal.Decimal) (string, error) {
	return "", errors.New("no dialogue")
}

// estimateCompleter serves the estimator a fixed multiplier.
type estimateCompleter struct{ response string }

func (c estimateCompleter) Complete(context.Context, llm.Request) (string, error) {
	return c.response, nil
}

func echoHandler() agent.Handler {
	return agent.HandlerFunc(func(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"result": "ok"}, nil
	})
}

func newTestServer(t *testing.T, p pricing.Pricing, advisor negotiation.Advisor, completer llm.Completer) *httptest.Server {
	t.Helper()
	a := agent.New(agent.Config{
		Name:    "Research Agent",
		Pricing: p,
		Handler: echoHandler(),
	})
	d := NewDispatcher(DispatcherConfig{
		Agent:     a,
		Estimator: estimate.New(estimate.Config{Client: completer}),
		Advisor:   advisor,
	})
	srv := NewServer(ServerConfig{Dispatcher: d, AgentName: a.Name})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method string, params interface{}) *Response {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpResp, err := http.Post(ts.URL+"/apex", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	return &resp
}

func result(t *testing.T, resp *Response) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is %T", resp.Result)
	return m
}

func amountOf(t *testing.T, m map[string]interface{}, key string) decimal.Decimal {
	t.Helper()
	obj, ok := m[key].(map[string]interface{})
	require.True(t, ok, "%s is %T", key, m[key])
	d, err := decimal.NewFromString(fmt.Sprintf("%v", obj["amount"]))
	require.NoError(t, err)
	return d
}

func mustFixed(t *testing.T, amount string) *pricing.Fixed {
	t.Helper()
	p, err := pricing.NewFixed(dec(amount), "USDC")
	require.NoError(t, err)
	return p
}

func mustNegotiated(t *testing.T, n pricing.Negotiated) *pricing.Negotiated {
	t.Helper()
	p, err := pricing.NewNegotiated(n)
	require.NoError(t, err)
	return p
}

func TestDiscover(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5"), nil, nil)

	m := result(t, call(t, ts, MethodDiscover, nil))

	ag := m["agent"].(map[string]interface{})
	assert.Equal(t, "Research Agent", ag["name"])
	assert.NotEmpty(t, ag["id"])

	caps := m["capabilities"].([]interface{})
	require.Len(t, caps, 1)
	cap0 := caps[0].(map[string]interface{})
	assert.Equal(t, "research-agent", cap0["id"])
	assert.Equal(t, "fixed", cap0["pricing"].(map[string]interface{})["model"])

	pay := m["payment"].(map[string]interface{})
	assert.NotEmpty(t, pay["address"])
	assert.Equal(t, []interface{}{"base"}, pay["networks"])
}

func TestUnknownMethod(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5"), nil, nil)
	resp := call(t, ts, "apex/destroy", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestFixedSuccess(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5.00"), nil, nil)

	m := result(t, call(t, ts, MethodPropose, map[string]interface{}{
		"capability": "research-agent",
		"job_id":     "job-1",
		"input":      map[string]interface{}{"topic": "go"},
		"offer":      map[string]interface{}{"amount": 5.00, "currency": "USDC"},
	}))

	assert.Equal(t, "completed", m["status"])
	assert.Equal(t, "job-1", m["job_id"])
	assert.True(t, amountOf(t, m, "terms").Equal(dec("5")))
	assert.Equal(t, "ok", m["output"].(map[string]interface{})["result"])
}

func TestFixedUnderbid(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5.00"), nil, nil)

	resp := call(t, ts, MethodPropose, map[string]interface{}{
		"job_id": "job-1",
		"offer":  map[string]interface{}{"amount": 2.50},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeFixedUnderbid, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "5")
}

func TestFixedRejectsCounterAndAccept(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5.00"), nil, nil)

	resp := call(t, ts, MethodCounter, map[string]interface{}{
		"job_id": "job-1",
		"offer":  map[string]interface{}{"amount": 4},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotNegotiable, resp.Error.Code)

	resp = call(t, ts, MethodAccept, map[string]interface{}{
		"job_id": "job-1",
		"terms":  map[string]interface{}{"amount": 5},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotNegotiable, resp.Error.Code)
}

func TestNegotiatedConvergenceBalanced(t *testing.T) {
	p := mustNegotiated(t, pricing.Negotiated{
		Target:    decp("25"),
		Minimum:   decp("15"),
		MaxRounds: 5,
		Strategy:  pricing.StrategyBalanced,
	})
	ts := newTestServer(t, p, nil, nil)

	offer := func(amount string, method string) *Response {
		params := map[string]interface{}{
			"job_id": "job-neg",
			"offer":  map[string]interface{}{"amount": json.Number(amount), "currency": "USDC"},
			"input":  map[string]interface{}{"topic": "market research"},
		}
		return call(t, ts, method, params)
	}

	m := result(t, offer("12", MethodPropose))
	assert.Equal(t, "counter", m["status"])
	assert.True(t, amountOf(t, m, "offer").Equal(dec("24.25")), "round 1 counter %v", m["offer"])
	assert.Equal(t, float64(1), m["round"])
	assert.Equal(t, float64(5), m["max_rounds"])

	m = result(t, offer("16", MethodCounter))
	assert.True(t, amountOf(t, m, "offer").Equal(dec("23.56")), "round 2 counter %v", m["offer"])

	m = result(t, offer("20", MethodCounter))
	assert.True(t, amountOf(t, m, "offer").Equal(dec("22.91")), "round 3 counter %v", m["offer"])

	// Round 4 curve sits at 22.32; 22.50 clears it.
	m = result(t, offer("22.50", MethodCounter))
	assert.Equal(t, "completed", m["status"])
	assert.True(t, amountOf(t, m, "terms").Equal(dec("22.50")))
	assert.Equal(t, "ok", m["output"].(map[string]interface{})["result"])

	// Terminal engines leave the jobs map.
	resp := offer("23", MethodCounter)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownJob, resp.Error.Code)
}

func TestNegotiatedAcceptSettles(t *testing.T) {
	p := mustNegotiated(t, pricing.Negotiated{
		Target:    decp("25"),
		Minimum:   decp("15"),
		MaxRounds: 5,
		Strategy:  pricing.StrategyBalanced,
	})
	ts := newTestServer(t, p, nil, nil)

	m := result(t, call(t, ts, MethodPropose, map[string]interface{}{
		"job_id": "job-acc",
		"offer":  map[string]interface{}{"amount": 12},
	}))
	require.Equal(t, "counter", m["status"])
	counter := amountOf(t, m, "offer")

	m = result(t, call(t, ts, MethodAccept, map[string]interface{}{
		"job_id": "job-acc",
		"terms":  map[string]interface{}{"amount": json.Number(counter.StringFixed(2))},
		"input":  map[string]interface{}{"topic": "go"},
	}))
	assert.Equal(t, "completed", m["status"])
	assert.True(t, amountOf(t, m, "terms").Equal(counter))
	assert.Equal(t, "ok", m["output"].(map[string]interface{})["result"])
}

func TestCounterUnknownJob(t *testing.T) {
	p := mustNegotiated(t, pricing.Negotiated{Target: decp("25"), Minimum: decp("15")})
	ts := newTestServer(t, p, nil, nil)

	resp := call(t, ts, MethodCounter, map[string]interface{}{
		"job_id": "job-missing",
		"offer":  map[string]interface{}{"amount": 20},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownJob, resp.Error.Code)

	resp = call(t, ts, MethodAccept, map[string]interface{}{
		"job_id": "job-missing",
		"terms":  map[string]interface{}{"amount": 20},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownJob, resp.Error.Code)
}

func TestFloorProtectionOverridesAdvisor(t *testing.T) {
	p := mustNegotiated(t, pricing.Negotiated{
		Target:    decp("10"),
		Minimum:   decp("5"),
		MaxRounds: 3,
		Strategy:  pricing.StrategyLLM,
	})
	ts := newTestServer(t, p, rejectAdvisor{}, nil)

	resp := call(t, ts, MethodPropose, map[string]interface{}{
		"job_id": "job-floor",
		"offer":  map[string]interface{}{"amount": 6},
	})

	m := result(t, resp)
	assert.Equal(t, "counter", m["status"])
	assert.True(t, amountOf(t, m, "offer").Equal(dec("5")), "counter %v", m["offer"])
}

func TestEstimateDrivenNegotiation(t *testing.T) {
	base := dec("20")
	p := mustNegotiated(t, pricing.Negotiated{
		Base:      &base,
		MaxRounds: 5,
		Strategy:  pricing.StrategyBalanced,
	})
	ts := newTestServer(t, p, nil, estimateCompleter{`{"multiplier": 1.5, "reasoning": "multi-source"}`})

	m := result(t, call(t, ts, MethodEstimate, map[string]interface{}{
		"input": map[string]interface{}{"topic": "AI trends"},
	}))
	assert.Equal(t, "estimated", m["status"])
	estID := m["estimate_id"].(string)
	require.NotEmpty(t, estID)
	assert.True(t, amountOf(t, m, "estimate").Equal(dec("30")))
	est := m["estimate"].(map[string]interface{})
	assert.Equal(t, "USDC", est["currency"])
	negInfo := m["negotiation"].(map[string]interface{})
	assert.NotNil(t, negInfo["floor"])

	// An offer at the estimated amount settles in one round.
	m = result(t, call(t, ts, MethodPropose, map[string]interface{}{
		"job_id":      "job-est",
		"estimate_id": estID,
		"offer":       map[string]interface{}{"amount": 30},
		"input":       map[string]interface{}{"topic": "AI trends"},
	}))
	assert.Equal(t, "completed", m["status"])
	assert.True(t, amountOf(t, m, "terms").Equal(dec("30")))
}

func TestEstimateRequiredAndUnknown(t *testing.T) {
	base := dec("20")
	p := mustNegotiated(t, pricing.Negotiated{Base: &base})
	ts := newTestServer(t, p, nil, nil)

	resp := call(t, ts, MethodPropose, map[string]interface{}{
		"job_id": "job-1",
		"offer":  map[string]interface{}{"amount": 20},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	resp = call(t, ts, MethodPropose, map[string]interface{}{
		"job_id":      "job-1",
		"estimate_id": "est-deadbeefdeadbeefdeadbeef",
		"offer":       map[string]interface{}{"amount": 20},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "estimate_id")
}

func TestEstimateOnFixedPricing(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5"), nil, nil)
	resp := call(t, ts, MethodEstimate, map[string]interface{}{
		"input": map[string]interface{}{"topic": "go"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotNegotiable, resp.Error.Code)
}

func TestRoundCapRejects(t *testing.T) {
	p := mustNegotiated(t, pricing.Negotiated{
		Target:    decp("25"),
		Minimum:   decp("15"),
		MaxRounds: 2,
		Strategy:  pricing.StrategyFirm,
	})
	ts := newTestServer(t, p, nil, nil)

	offer := func(amount string, method string) *Response {
		return call(t, ts, method, map[string]interface{}{
			"job_id": "job-cap",
			"offer":  map[string]interface{}{"amount": json.Number(amount)},
		})
	}

	result(t, offer("1", MethodPropose))
	result(t, offer("2", MethodCounter))

	resp := offer("3", MethodCounter)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRejected, resp.Error.Code)

	// The engine is gone after rejection.
	resp = offer("25", MethodCounter)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownJob, resp.Error.Code)
}

func TestHandlerFailureSurfacesInternal(t *testing.T) {
	a := agent.New(agent.Config{
		Name:    "Broken Agent",
		Pricing: mustFixed(t, "5"),
		Handler: agent.HandlerFunc(func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("task blew up")
		}),
	})
	d := NewDispatcher(DispatcherConfig{Agent: a})
	srv := NewServer(ServerConfig{Dispatcher: d, AgentName: a.Name})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := call(t, ts, MethodPropose, map[string]interface{}{
		"job_id": "job-1",
		"offer":  map[string]interface{}{"amount": 5},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternal, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "task blew up")
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5"), nil, nil)

	httpResp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Research Agent", body["agent"])
}

func TestInvalidJSONBody(t *testing.T) {
	ts := newTestServer(t, mustFixed(t, "5"), nil, nil)

	httpResp, err := http.Post(ts.URL+"/apex", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestHandlerTimeout(t *testing.T) {
	a := agent.New(agent.Config{
		Name:           "Slow Agent",
		Pricing:        mustFixed(t, "5"),
		HandlerTimeout: 20 * time.Millisecond,
		Handler: agent.HandlerFunc(func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return map[string]interface{}{}, nil
			}
		}),
	})
	d := NewDispatcher(DispatcherConfig{Agent: a})
	srv := NewServer(ServerConfig{Dispatcher: d, AgentName: a.Name})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := call(t, ts, MethodPropose, map[string]interface{}{
		"job_id": "job-slow",
		"offer":  map[string]interface{}{"amount": 5},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternal, resp.Error.Code)
}
