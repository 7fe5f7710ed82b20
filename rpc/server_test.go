package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"payguard/core/state"
	"payguard/crypto"
	"payguard/native/escrow"
	"payguard/storage"
)

const testToken = "test-token"

var (
	clientAddr     = crypto.MustNewAddress(bytes.Repeat([]byte{0x01}, 20))
	freelancerAddr = crypto.MustNewAddress(bytes.Repeat([]byte{0x02}, 20))
	arbitratorAddr = crypto.MustNewAddress(bytes.Repeat([]byte{0x03}, 20))
)

const testHash = "1111111111111111111111111111111111111111111111111111111111111111"

func newTestServer(t *testing.T, token string) (*Server, *state.Manager) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := escrow.NewEngine()
	engine.SetState(manager)
	return NewServer(engine, token, nil), manager
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func call(t *testing.T, server *Server, token, method string, params interface{}) testResponse {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = params
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func createContract(t *testing.T, server *Server) string {
	t.Helper()
	resp := call(t, server, testToken, "escrow_create", map[string]interface{}{
		"caller":          clientAddr.String(),
		"id":              1,
		"client":          clientAddr.String(),
		"freelancer":      freelancerAddr.String(),
		"arbitrator":      arbitratorAddr.String(),
		"asset":           "PGC",
		"totalAmount":     1_000_000,
		"descriptionHash": testHash,
		"milestones": []map[string]interface{}{
			{"amount": 600_000, "description": "design"},
			{"amount": 400_000, "description": "delivery"},
		},
	})
	require.Nil(t, resp.Error)

	var view struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	require.Len(t, view.Address, 64)
	return view.Address
}

func TestMutationsRequireToken(t *testing.T) {
	server, _ := newTestServer(t, testToken)
	resp := call(t, server, "", "escrow_create", map[string]interface{}{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = call(t, server, "wrong-token", "escrow_create", map[string]interface{}{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestEmptyTokenDisablesWrites(t *testing.T) {
	server, _ := newTestServer(t, "")
	resp := call(t, server, "anything", "escrow_cancel", map[string]interface{}{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestReadsNeedNoToken(t *testing.T) {
	server, _ := newTestServer(t, testToken)
	resp := call(t, server, "", "escrow_deriveAddress", map[string]interface{}{
		"creator": clientAddr.String(),
		"id":      1,
	})
	require.Nil(t, resp.Error)

	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	want := escrow.ContractAddress(clientAddr.Fixed(), 1)
	require.Equal(t, fmt.Sprintf("%x", want[:]), result["address"])
}

func TestMethodNotFound(t *testing.T) {
	server, _ := newTestServer(t, testToken)
	resp := call(t, server, testToken, "escrow_unknown", map[string]interface{}{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestParseError(t *testing.T) {
	server, _ := newTestServer(t, testToken)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeParseError, resp.Error.Code)
}

func TestLifecycleOverRPC(t *testing.T) {
	server, manager := newTestServer(t, testToken)
	require.NoError(t, manager.Mint(clientAddr.Fixed(), "PGC", 1_000_000))
	addr := createContract(t, server)

	resp := call(t, server, testToken, "escrow_fund", map[string]interface{}{
		"caller":  clientAddr.String(),
		"address": addr,
		"amount":  1_000_000,
	})
	require.Nil(t, resp.Error)

	resp = call(t, server, testToken, "escrow_submitMilestone", map[string]interface{}{
		"caller":  freelancerAddr.String(),
		"address": addr,
		"index":   0,
		"hash":    testHash,
	})
	require.Nil(t, resp.Error)

	resp = call(t, server, testToken, "escrow_approveMilestone", map[string]interface{}{
		"caller":  clientAddr.String(),
		"address": addr,
		"index":   0,
	})
	require.Nil(t, resp.Error)

	resp = call(t, server, "", "escrow_get", map[string]interface{}{"address": addr})
	require.Nil(t, resp.Error)

	var view struct {
		Status         string `json:"status"`
		ReleasedAmount uint64 `json:"releasedAmount"`
		CustodyBalance uint64 `json:"custodyBalance"`
		Funded         bool   `json:"funded"`
		Milestones     []struct {
			Status string `json:"status"`
		} `json:"milestones"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	require.Equal(t, "active", view.Status)
	require.True(t, view.Funded)
	require.Equal(t, uint64(600_000), view.ReleasedAmount)
	require.Equal(t, uint64(400_000), view.CustodyBalance)
	require.Equal(t, "approved", view.Milestones[0].Status)
	require.Equal(t, "pending", view.Milestones[1].Status)

	balance, err := manager.BalanceOf(freelancerAddr.Fixed(), "PGC")
	require.NoError(t, err)
	require.Equal(t, uint64(600_000), balance)
}

func TestBusinessErrorCodes(t *testing.T) {
	server, manager := newTestServer(t, testToken)
	require.NoError(t, manager.Mint(clientAddr.Fixed(), "PGC", 1_000_000))
	addr := createContract(t, server)

	resp := call(t, server, testToken, "escrow_fund", map[string]interface{}{
		"caller":  clientAddr.String(),
		"address": addr,
		"amount":  500_000,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeAmountMismatch, resp.Error.Code)

	resp = call(t, server, testToken, "escrow_fund", map[string]interface{}{
		"caller":  freelancerAddr.String(),
		"address": addr,
		"amount":  1_000_000,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = call(t, server, "", "escrow_get", map[string]interface{}{
		"address": fmt.Sprintf("%064x", 0xFF),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeNotFound, resp.Error.Code)

	resp = call(t, server, testToken, "escrow_resolveDispute", map[string]interface{}{
		"caller":    arbitratorAddr.String(),
		"address":   addr,
		"index":     0,
		"decision":  "coin_toss",
		"proofHash": testHash,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRateLimit(t *testing.T) {
	server, _ := newTestServer(t, testToken)
	var limited bool
	for i := 0; i < maxTxPerWindow+1; i++ {
		resp := call(t, server, testToken, "escrow_cancel", map[string]interface{}{})
		require.NotNil(t, resp.Error)
		if resp.Error.Code == codeRateLimited {
			limited = true
			break
		}
	}
	require.True(t, limited, "rate limiter never engaged")
}
