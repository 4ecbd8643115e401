package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"nhooyr.io/websocket"

	"zapspay/storage"
)

const streamWriteTimeout = 10 * time.Second

// handleStreamPayment upgrades to a websocket and streams status changes
// for one payment: the current row as a snapshot frame, then live updates
// from the reconciliation and submission paths until the client leaves.
func (s *Server) handleStreamPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "payment id is not a UUID", http.StatusBadRequest)
		return
	}
	payment, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		http.Error(w, "no such payment", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamStatus(r.Context(), conn, payment); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamStatus(ctx context.Context, conn *websocket.Conn, payment *storage.Payment) error {
	// Subscribe before the snapshot so a transition landing in between is
	// not lost.
	updates, cancel := s.hub.Subscribe(payment.ID)
	defer cancel()

	snapshot := StatusUpdate{
		Stream: storage.StreamPayment,
		ID:     payment.ID,
		Status: payment.Status,
		TxHash: payment.TxHash,
		At:     payment.UpdatedAt.UTC(),
	}
	if err := writeUpdate(ctx, conn, snapshot); err != nil {
		return err
	}
	if payment.Status.Terminal() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeUpdate(ctx, conn, update); err != nil {
				return err
			}
			if update.Status.Terminal() {
				return nil
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
