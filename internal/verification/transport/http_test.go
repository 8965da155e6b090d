package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/codeproof/internal/chains"
	"github.com/pendergraft/codeproof/internal/explorer"
	"github.com/pendergraft/codeproof/internal/verification/domain"
	"github.com/pendergraft/codeproof/pkg/client"
)

// mockService implements Service for testing
type mockService struct {
	err  error
	reqs []domain.Request
}

func (m *mockService) Verify(ctx context.Context, req domain.Request) (*domain.Report, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Report{
		RunID:    "run-1",
		ChainID:  1,
		Address:  req.Address,
		Contract: req.Contract.String(),
		Creation: domain.CreationCreate,
		Results: []domain.Result{
			{Kind: chains.KindCreation, Match: chains.MatchExact},
			{Kind: chains.KindRuntime, Match: chains.MatchPartial},
		},
	}, nil
}

func setupRouter(svc Service, opts ...Option) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc, opts...)
	h.RegisterRoutes(r)
	return r
}

func post(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/verify", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const addr = "0x1234567890abcdef1234567890abcdef12345678"

func TestHandler_Verify(t *testing.T) {
	svc := &mockService{}
	router := setupRouter(svc)

	rec := post(router, `{
		"address": "`+addr+`",
		"contract": "src/Token.sol:Token",
		"block": "0x10",
		"constructorArgs": ["1", "0xabc"],
		"ignore": "creation"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp["runId"])
	assert.Equal(t, "src/Token.sol:Token", resp["contract"])
	results := resp["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, map[string]any{"bytecodeType": "creation", "matchType": "exact"}, results[0])

	require.Len(t, svc.reqs, 1)
	got := svc.reqs[0]
	assert.Equal(t, common.HexToAddress(addr), got.Address)
	assert.Equal(t, chains.ContractID{Path: "src/Token.sol", Name: "Token"}, got.Contract)
	assert.Equal(t, "0x10", got.Block)
	assert.Equal(t, []string{"1", "0xabc"}, got.ConstructorArgs)
	assert.Nil(t, got.EncodedConstructorArgs)
	assert.Equal(t, domain.IgnoreCreation, got.Ignore)
}

func TestHandler_Verify_ConstructorArgForms(t *testing.T) {
	t.Run("empty typed list is kept", func(t *testing.T) {
		svc := &mockService{}
		rec := post(setupRouter(svc), `{"address":"`+addr+`","contract":"Token","constructorArgs":[]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotNil(t, svc.reqs[0].ConstructorArgs)
		assert.Empty(t, svc.reqs[0].ConstructorArgs)
	})

	t.Run("client requests", func(t *testing.T) {
		for _, args := range [][]string{nil, {}, {"7"}} {
			body, err := json.Marshal(client.VerifyRequest{Address: addr, Contract: "Token", ConstructorArgs: args})
			require.NoError(t, err)

			svc := &mockService{}
			rec := post(setupRouter(svc), string(body))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, args == nil, svc.reqs[0].ConstructorArgs == nil, "body %s", body)
			assert.Len(t, svc.reqs[0].ConstructorArgs, len(args))
		}
	})

	t.Run("encoded", func(t *testing.T) {
		svc := &mockService{}
		rec := post(setupRouter(svc), `{"address":"`+addr+`","contract":"Token","encodedConstructorArgs":"0x00ff"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, svc.reqs[0].ConstructorArgs)
		assert.Equal(t, []byte{0x00, 0xff}, svc.reqs[0].EncodedConstructorArgs)
	})
}

func TestHandler_Verify_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "not json"},
		{name: "missing address", body: `{"contract":"Token"}`},
		{name: "bad address", body: `{"address":"0x12","contract":"Token"}`},
		{name: "missing contract", body: `{"address":"` + addr + `"}`},
		{name: "bad contract", body: `{"address":"` + addr + `","contract":"../x.sol:Token"}`},
		{name: "bad encoded args", body: `{"address":"` + addr + `","contract":"Token","encodedConstructorArgs":"0xzz"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			rec := post(setupRouter(svc), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
			assert.Empty(t, svc.reqs)
		})
	}
}

func TestHandler_Verify_TooLarge(t *testing.T) {
	svc := &mockService{}
	router := setupRouter(svc, WithMaxBodyBytes(64))

	body := `{"address":"` + addr + `","contract":"` + strings.Repeat("A", 100) + `"}`
	rec := post(router, body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, svc.reqs)
}

func TestHandler_Verify_Errors(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrInvalidBlock, http.StatusBadRequest, "INVALID_REQUEST"},
		{domain.ErrConstructorArgsMismatch, http.StatusBadRequest, "INVALID_REQUEST"},
		{domain.ErrNoBytecode, http.StatusNotFound, "NO_BYTECODE"},
		{domain.ErrContractNameMismatch, http.StatusUnprocessableEntity, "CONTRACT_NAME_MISMATCH"},
		{domain.ErrUnlinkedBytecode, http.StatusUnprocessableEntity, "UNLINKED_BYTECODE"},
		{domain.ErrUnsupportedCreation, http.StatusUnprocessableEntity, "UNSUPPORTED_CREATION"},
		{domain.ErrUnsupportedCompiler, http.StatusUnprocessableEntity, "UNSUPPORTED_COMPILER"},
		{explorer.ErrSourceNotVerified, http.StatusUnprocessableEntity, "SOURCE_NOT_VERIFIED"},
		{explorer.ErrRateLimited, http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMITED"},
		{fmt.Errorf("fetching code: dial tcp: refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			svc := &mockService{err: fmt.Errorf("verifying: %w", tt.err)}
			rec := post(setupRouter(svc), `{"address":"`+addr+`","contract":"Token"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error.Message, "dial tcp")
			}
		})
	}
}
