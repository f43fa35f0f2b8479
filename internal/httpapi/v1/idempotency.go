package v1

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// IdempotencyHeader names the client-supplied idempotency key.
const IdempotencyHeader = "Idempotency-Key"

func idempotencySourceKey(key string) string { return "api:" + key }

type storedBatch struct {
	BodyHash string
	Status   int
	Payload  []byte
}

func hashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// captureWriter records what a handler wrote so it can be replayed.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

func (s *Server) storeBatch(key, hash string, c *captureWriter) {
	s.batchIdemMu.Lock()
	defer s.batchIdemMu.Unlock()
	s.batchIdem[key] = storedBatch{BodyHash: hash, Status: c.status, Payload: c.buf.Bytes()}
}

// replayBatch answers a repeated key. It reports false when the key is new.
func (s *Server) replayBatch(w http.ResponseWriter, key, hash string) bool {
	s.batchIdemMu.RLock()
	prev, ok := s.batchIdem[key]
	s.batchIdemMu.RUnlock()
	if !ok {
		return false
	}
	if prev.BodyHash != hash {
		writeErr(w, http.StatusConflict, "idempotency key reused with a different body", "idempotency_mismatch")
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(prev.Status)
	_, _ = w.Write(prev.Payload)
	return true
}
