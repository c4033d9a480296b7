// Package jsonrpc is the thin HTTP facade over a running node: a
// {"result": ..., "error": ...} envelope, a handshake endpoint used to
// bootstrap a new node into the ring, and put/get/connect endpoints for
// operating the node from the command line.
package jsonrpc

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	chord "github.com/croath/rings-node"
)

// Response is the envelope every endpoint answers with. Exactly one of
// Result and Error is set.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{Result: result})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Error: err.Error()})
}

// HandshakeRequest carries one side's base64-encoded transport handshake.
type HandshakeRequest struct {
	Info string `json:"info"`
}

// HandshakeResponse returns the answering side's handshake and identity.
type HandshakeResponse struct {
	Info string `json:"info"`
	Did  string `json:"did"`
}

// Server serves the facade for one node.
type Server struct {
	node *chord.Node
	log  *zap.SugaredLogger
	mux  *http.ServeMux
}

// NewServer wires the endpoints for node.
func NewServer(node *chord.Node, log *zap.SugaredLogger) *Server {
	s := &Server{node: node, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/handshake", s.handleHandshake)
	s.mux.HandleFunc("/info", s.handleInfo)
	s.mux.HandleFunc("/store", s.handleStore)
	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.HandleFunc("/connect", s.handleConnect)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHandshake accepts a remote node's transport offer, answers it,
// registers the resulting transport, and announces ourselves to the new
// peer so both sides fold each other into their rings.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offer, err := base64.StdEncoding.DecodeString(req.Info)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tm := s.node.Config.Transports
	t, err := tm.NewTransport()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	remoteDid, err := t.RegisterRemoteInfo(offer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	answer, err := t.GetHandshakeInfo(s.node.Config.SessionManager, chord.HandshakeAnswer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tm.Register(remoteDid, t)

	if err := s.node.Handler.SendJoinDHT(remoteDid); err != nil {
		s.log.Warnw("join announcement to new peer failed", "peer", remoteDid, "error", err)
	}
	writeResult(w, HandshakeResponse{
		Info: base64.StdEncoding.EncodeToString(answer),
		Did:  s.node.Ring.Did().String(),
	})
}

// NodeInfo is the /info response body.
type NodeInfo struct {
	Did         string   `json:"did"`
	Successors  []string `json:"successors"`
	Predecessor string   `json:"predecessor,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	_, successors := s.node.Ring.SuccessorSnapshot()
	info := NodeInfo{Did: s.node.Ring.Did().String()}
	for _, succ := range successors {
		info.Successors = append(info.Successors, succ.String())
	}
	if pred, ok := s.node.Ring.Predecessor(); ok {
		info.Predecessor = pred.String()
	}
	writeResult(w, info)
}

// StoreRequest stores Value under the id derived from hashing Key.
type StoreRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := keyToDid(req.Key)
	if err := s.node.Handler.StoreValue(id, []byte(req.Value)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeResult(w, map[string]string{"id": id.String()})
}

// SearchRequest looks up the value stored under Key.
type SearchRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := keyToDid(req.Key)
	value, found, err := s.node.Handler.SearchValue(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		// The query is in flight through the ring; the FoundVNode answer
		// arrives on the message callback, not in this request cycle.
		writeResult(w, map[string]interface{}{"id": id.String(), "found": false})
		return
	}
	writeResult(w, map[string]interface{}{"id": id.String(), "found": true, "value": string(value)})
}

// ConnectRequest asks the node to establish a transport to the peer with
// the given hex identifier, routed through the ring.
type ConnectRequest struct {
	Did string `json:"did"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := hex.DecodeString(req.Did)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target := chord.DidFromBytes(raw)
	if err := s.node.Handler.Connect(r.Context(), target); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeResult(w, map[string]string{"status": "connecting", "did": target.String()})
}

// keyToDid maps an application key onto the ring the same way node
// identities are derived: the low 160 bits of its Keccak256 hash.
func keyToDid(key string) chord.Did {
	return chord.DidFromBytes(crypto.Keccak256([]byte(key)))
}
