package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/inft-marketplace/internal/agents"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/devchain"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
	"github.com/smartdevs17/inft-marketplace/internal/storage"
)

const (
	creator = "0x00000000000000000000000000000000000000c1"
	buyer   = "0x00000000000000000000000000000000000000b2"
)

type testServer struct {
	srv    *HTTPServer
	agents *agents.Service
	chain  *devchain.Chain
	reg    *prometheus.Registry
}

func newTestServer(t *testing.T, withChain bool) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	ts := &testServer{
		agents: agents.NewService(nil, agents.Options{}, nil),
		reg:    reg,
	}
	deps := Deps{
		Agents:   ts.agents,
		Store:    storage.NewMemoryStorage(),
		FeeBps:   marketplace.DefaultFeeBps,
		Gatherer: reg,
	}
	if withChain {
		ts.chain = devchain.New(devchain.Options{})
		market := contracts.NewMarketplace(ts.chain, ts.chain.Marketplace())
		deps.Marketplace = market
		deps.Engine = reconcile.NewEngine(ts.chain, reconcile.Config{
			ReceiptAttempts: 2,
			ReceiptDelay:    time.Millisecond,
		}, nil, reconcile.WithListingCounter(market),
			reconcile.WithAgentRegistry(contracts.NewFactory(ts.chain, ts.chain.Factory())))
	}

	ts.srv = NewHTTPServer(&ServerConfig{EnableHealth: true, EnableMetrics: true},
		deps, metrics.NewManagerWithRegistry(reg))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (ts *testServer) seed(t *testing.T, name string) *models.UnifiedAgent {
	t.Helper()
	agent, err := ts.agents.Create(context.Background(), &models.AgentInput{
		Name:     name,
		Creator:  creator,
		Price:    "0.5",
		Category: "Trading",
	})
	require.NoError(t, err)
	return agent
}

func TestCreateAndListAgents(t *testing.T) {
	ts := newTestServer(t, false)

	rec, body := ts.do(t, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"name":    "Arb Bot",
		"creator": "0x" + strings.ToUpper(creator[2:]),
		"price":   "0.25",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	agent := body["agent"].(map[string]interface{})
	assert.Equal(t, creator, agent["creator"])
	assert.Equal(t, "250000000000000000", agent["priceWei"])

	ts.seed(t, "Second")

	rec, body = ts.do(t, http.MethodGet, "/api/v1/agents?creator="+creator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["agents"], 2)

	rec, body = ts.do(t, http.MethodGet, "/api/v1/agents?owner="+buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])
	assert.Equal(t, []interface{}{}, body["agents"])
}

func TestCreateAgentValidation(t *testing.T) {
	ts := newTestServer(t, false)

	rec, body := ts.do(t, http.MethodPost, "/api/v1/agents", map[string]interface{}{"name": "No creator"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestListAgentsRejectsBadActiveFilter(t *testing.T) {
	ts := newTestServer(t, false)

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/agents?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAgent(t *testing.T) {
	ts := newTestServer(t, false)
	agent := ts.seed(t, "Lookup")

	rec, body := ts.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, agent.ID, body["agent"].(map[string]interface{})["id"])

	rec, body = ts.do(t, http.MethodGet, "/api/v1/agents/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestUpdateAgentOnlyByCreator(t *testing.T) {
	ts := newTestServer(t, false)
	agent := ts.seed(t, "Owned")

	rec, _ := ts.do(t, http.MethodPut, "/api/v1/agents", map[string]interface{}{
		"id":          agent.ID,
		"updates":     map[string]interface{}{"name": "Hijacked"},
		"userAddress": buyer,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := ts.do(t, http.MethodPut, "/api/v1/agents", map[string]interface{}{
		"id":          agent.ID,
		"updates":     map[string]interface{}{"name": "Renamed"},
		"userAddress": creator,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", body["agent"].(map[string]interface{})["name"])

	rec, _ = ts.do(t, http.MethodPut, "/api/v1/agents", map[string]interface{}{"id": agent.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkSold(t *testing.T) {
	ts := newTestServer(t, false)
	agent := ts.seed(t, "For sale")

	rec, _ := ts.do(t, http.MethodDelete, "/api/v1/agents", map[string]interface{}{"buyerAddress": buyer})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := ts.do(t, http.MethodDelete, "/api/v1/agents", map[string]interface{}{
		"agentId":      agent.ID,
		"buyerAddress": buyer,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Agent marked as sold", body["message"])
	sold := body["agent"].(map[string]interface{})
	assert.Equal(t, false, sold["active"])
	assert.Equal(t, buyer, sold["currentOwner"])

	rec, body = ts.do(t, http.MethodGet, "/api/v1/agents?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])
}

func TestFees(t *testing.T) {
	ts := newTestServer(t, false)

	rec, body := ts.do(t, http.MethodGet, "/api/v1/marketplace/fees?price=1000000000000000000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "25000000000000000", body["platformFee"])
	assert.Equal(t, "975000000000000000", body["sellerAmount"])
	display := body["display"].(map[string]interface{})
	assert.Equal(t, "0.025", display["platformFee"])

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/marketplace/fees?price=-5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeesHonourZeroFeeSchedule(t *testing.T) {
	ts := &testServer{agents: agents.NewService(nil, agents.Options{}, nil)}
	ts.srv = NewHTTPServer(&ServerConfig{}, Deps{Agents: ts.agents, FeeBps: 0}, nil)

	rec, body := ts.do(t, http.MethodGet, "/api/v1/marketplace/fees?price=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["feeBps"])
	assert.Equal(t, "0", body["platformFee"])
	assert.Equal(t, "100", body["sellerAmount"])
}

func TestChainRoutesUnavailableWithoutClient(t *testing.T) {
	ts := newTestServer(t, false)

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/marketplace/listings/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/reconcile/listing", map[string]string{"txHash": "0x01"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListingAndReconcileRoutes(t *testing.T) {
	ts := newTestServer(t, true)
	ctx := context.Background()
	price := big.NewInt(1e18)

	factory := contracts.NewFactory(ts.chain, ts.chain.Factory())
	createTx, err := factory.CreateAgent(ctx, contracts.CreateAgentParams{Name: "Routed", Price: price}, devchain.DefaultCreationFee, 5_000_000)
	require.NoError(t, err)
	contract, err := factory.AgentAt(ctx, 0)
	require.NoError(t, err)
	nft := contracts.NewAgentNFT(ts.chain)
	_, err = nft.Mint(ctx, contract, "ipfs://routed", 500_000)
	require.NoError(t, err)
	_, err = nft.Approve(ctx, contract, ts.chain.Marketplace(), big.NewInt(1), 500_000)
	require.NoError(t, err)
	listTx, err := contracts.NewMarketplace(ts.chain, ts.chain.Marketplace()).List(ctx, contract, big.NewInt(1), price, 500_000)
	require.NoError(t, err)

	rec, body := ts.do(t, http.MethodGet, "/api/v1/marketplace/listings/1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/marketplace/listings/9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = ts.do(t, http.MethodPost, "/api/v1/reconcile/listing", map[string]string{"txHash": listTx.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["known"])
	assert.EqualValues(t, 1, body["listingId"])
	assert.Equal(t, string(reconcile.MethodEvent), body["method"])

	rec, body = ts.do(t, http.MethodPost, "/api/v1/reconcile/contract", map[string]string{"txHash": createTx.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["known"])
	assert.Equal(t, strings.ToLower(contract.Hex()), body["address"])

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/reconcile/listing", map[string]string{"txHash": "0xabc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, true)

	rec, body := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, true, components["storage"])
	assert.Equal(t, true, components["chain"])

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	raw := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(raw, req)
	require.Equal(t, http.StatusOK, raw.Code)
	assert.Contains(t, raw.Body.String(), `inft_http_requests_total{method="GET",path="/api/v1/health",status="200"}`)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
