package jsonrpc

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	chord "github.com/croath/rings-node"
)

func newTestServer(t *testing.T) (*Server, *chord.Node) {
	t.Helper()
	sm, err := chord.GenerateSessionManager()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	tm := chord.NewInMemoryTransportManager()
	node, err := chord.Create(chord.DefaultConfig(sm, tm, zap.NewNop().Sugar()))
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	t.Cleanup(node.Shutdown)
	return NewServer(node, zap.NewNop().Sugar()), node
}

func TestInfoEndpoint(t *testing.T) {
	srv, node := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/info", nil))

	var resp struct {
		Result NodeInfo `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Did != node.Ring.Did().String() {
		t.Fatalf("did = %s, want %s", resp.Result.Did, node.Ring.Did())
	}
	if len(resp.Result.Successors) != 0 {
		t.Fatalf("lone node reports successors %v", resp.Result.Successors)
	}
}

func TestStoreAndSearchEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(StoreRequest{Key: "greeting", Value: "hello"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/store", bytes.NewReader(body)))
	if rec.Code != 200 {
		t.Fatalf("store status %d: %s", rec.Code, rec.Body)
	}

	// A lone node owns the whole ring, so the search resolves locally.
	body, _ = json.Marshal(SearchRequest{Key: "greeting"})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/search", bytes.NewReader(body)))

	var resp struct {
		Result map[string]interface{} `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if found, _ := resp.Result["found"].(bool); !found {
		t.Fatalf("search result = %v, want found", resp.Result)
	}
	if resp.Result["value"] != "hello" {
		t.Fatalf("value = %v, want hello", resp.Result["value"])
	}
}

func TestBadRequestEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/connect", bytes.NewReader([]byte("{"))))
	if rec.Code == 200 {
		t.Fatal("malformed body accepted")
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == "" {
		t.Fatal("error envelope missing")
	}
}
