package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"zapspay/storage"
)

// IdempotencyHeader names the header mutating routes replay on.
const IdempotencyHeader = "Idempotency-Key"

// WithIdempotency replays the stored response when a request repeats an
// Idempotency-Key with the same method, path, and body. Reusing a key for a
// different request is rejected so a stale response is never replayed for a
// payload it was not produced by. Responses are captured after the handler
// runs; a lost race on the insert is benign since both sides stored the same
// outcome.
func WithIdempotency(store *storage.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		digest := requestDigest(r.Method, r.URL.Path, body)

		if record, err := store.GetIdempotency(r.Context(), key); err == nil {
			if record.RequestHash != digest {
				http.Error(w, "idempotency key reused with a different request", http.StatusConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "idempotency lookup failed", http.StatusInternalServerError)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		_ = store.SaveIdempotency(r.Context(), &storage.IdempotencyKey{
			Key:         key,
			RequestHash: digest,
			Method:      r.Method,
			Path:        r.URL.Path,
			Status:      recorder.status,
			Response:    recorder.body.String(),
			CreatedAt:   time.Now().UTC(),
		})
	})
}

func requestDigest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte("\n"))
	h.Write([]byte(path))
	h.Write([]byte("\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
