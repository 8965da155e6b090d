package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testAddress = "0x1234567890abcdef1234567890abcdef12345678"

func TestClient_Verify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/verify" {
			t.Errorf("Expected path /api/v1/verify, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}

		var req VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Contract != "src/Token.sol:Token" {
			t.Errorf("Expected contract src/Token.sol:Token, got %s", req.Contract)
		}
		if len(req.ConstructorArgs) != 1 || req.ConstructorArgs[0] != "7" {
			t.Errorf("Expected constructor args [7], got %v", req.ConstructorArgs)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"runId":    "run-1",
			"chainId":  1,
			"address":  testAddress,
			"contract": "src/Token.sol:Token",
			"creation": "create",
			"results": []map[string]string{
				{"bytecodeType": "creation", "matchType": "exact"},
				{"bytecodeType": "runtime", "matchType": "partial"},
			},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	report, err := client.Verify(context.Background(), VerifyRequest{
		Address:         testAddress,
		Contract:        "src/Token.sol:Token",
		ConstructorArgs: []string{"7"},
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if report.RunID != "run-1" {
		t.Errorf("Verify().RunID = %s, want run-1", report.RunID)
	}
	if len(report.Results) != 2 {
		t.Fatalf("Verify() returned %d results, want 2", len(report.Results))
	}
	if report.Results[1].MatchType != "partial" {
		t.Errorf("Verify().Results[1].MatchType = %s, want partial", report.Results[1].MatchType)
	}
}

func TestClient_VerifyEmptyConstructorArgs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("Failed to read request: %v", err)
		}
		if !strings.Contains(string(body), `"constructorArgs":[]`) {
			t.Errorf("Expected an explicit empty constructorArgs list, got %s", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"address": testAddress, "contract": "Counter"})
	}))
	defer server.Close()

	_, err := New(server.URL).Verify(context.Background(), VerifyRequest{
		Address:         testAddress,
		Contract:        "Counter",
		ConstructorArgs: []string{},
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestClient_ListRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Errorf("Expected path /api/v1/runs, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("chain_id") != "1" {
			t.Errorf("Expected chain_id=1, got %s", q.Get("chain_id"))
		}
		if q.Get("limit") != "5" {
			t.Errorf("Expected limit=5, got %s", q.Get("limit"))
		}
		if q.Has("address") {
			t.Errorf("Expected no address filter, got %s", q.Get("address"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "run-2", "chainId": "1", "contract": "Token", "verified": true},
			},
			"pagination": map[string]any{
				"limit":      5,
				"hasMore":    true,
				"nextCursor": "run-2",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.ListRuns(context.Background(), ListRunsOptions{ChainID: "1", Limit: 5})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}

	if len(resp.Data) != 1 {
		t.Fatalf("ListRuns() returned %d runs, want 1", len(resp.Data))
	}
	if !resp.Data[0].Verified {
		t.Errorf("ListRuns()[0].Verified = false, want true")
	}
	if !resp.Pagination.HasMore || resp.Pagination.NextCursor != "run-2" {
		t.Errorf("ListRuns().Pagination = %+v, want more after run-2", resp.Pagination)
	}
}

func TestClient_GetRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-1" {
			t.Errorf("Expected path /api/v1/runs/run-1, got %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":       "run-1",
			"chainId":  "10",
			"address":  testAddress,
			"contract": "Token",
			"block":    100,
			"results": []map[string]string{
				{"bytecodeType": "creation", "matchType": "none", "message": "local settings differ: optimizer"},
			},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	run, err := client.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}

	if run.Block != 100 {
		t.Errorf("GetRun().Block = %d, want 100", run.Block)
	}
	if len(run.Results) != 1 || run.Results[0].Message == "" {
		t.Errorf("GetRun().Results = %+v, want one result with a message", run.Results)
	}
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "NOT_FOUND",
				"message": "Run not found",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.GetRun(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("Expected code NOT_FOUND, got %s", apiErr.Code)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", apiErr.Status)
	}
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.ListRuns(context.Background(), ListRunsOptions{})
	if err == nil {
		t.Fatal("Expected error for 502 response")
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("Expected plain error for empty body, got %v", apiErr)
	}
}
