package gateway

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zapspay/crypto"
	"zapspay/ledger"
	"zapspay/sponsor"
	"zapspay/storage"
)

type paymentView struct {
	ID            uuid.UUID      `json:"id"`
	FromAddress   string         `json:"fromAddress"`
	MerchantID    string         `json:"merchantId"`
	SendAsset     string         `json:"sendAsset"`
	SendAmount    string         `json:"sendAmount"`
	ReceiveAmount string         `json:"receiveAmount,omitempty"`
	Status        storage.Status `json:"status"`
	Memo          string         `json:"memo,omitempty"`
	TxHash        string         `json:"txHash,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func viewPayment(p *storage.Payment) paymentView {
	return paymentView{
		ID:            p.ID,
		FromAddress:   p.FromAddress,
		MerchantID:    p.MerchantID,
		SendAsset:     p.SendAsset,
		SendAmount:    p.SendAmount,
		ReceiveAmount: p.ReceiveAmount,
		Status:        p.Status,
		Memo:          p.Memo,
		TxHash:        p.TxHash,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type transferView struct {
	ID            uuid.UUID      `json:"id"`
	FromUserID    string         `json:"fromUserId"`
	ToUserID      string         `json:"toUserId"`
	FromAddress   string         `json:"fromAddress"`
	ToAddress     string         `json:"toAddress"`
	SendAsset     string         `json:"sendAsset"`
	SendAmount    string         `json:"sendAmount"`
	ReceiveAmount string         `json:"receiveAmount,omitempty"`
	Status        storage.Status `json:"status"`
	Memo          string         `json:"memo,omitempty"`
	TxHash        string         `json:"txHash,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func viewTransfer(tr *storage.Transfer) transferView {
	return transferView{
		ID:            tr.ID,
		FromUserID:    tr.FromUserID,
		ToUserID:      tr.ToUserID,
		FromAddress:   tr.FromAddress,
		ToAddress:     tr.ToAddress,
		SendAsset:     tr.SendAsset,
		SendAmount:    tr.SendAmount,
		ReceiveAmount: tr.ReceiveAmount,
		Status:        tr.Status,
		Memo:          tr.Memo,
		TxHash:        tr.TxHash,
		CreatedAt:     tr.CreatedAt,
		UpdatedAt:     tr.UpdatedAt,
	}
}

type sponsorshipView struct {
	Envelope          string `json:"envelope"`
	TxHash            string `json:"txHash"`
	FeePayer          string `json:"feePayer"`
	NetworkPassphrase string `json:"networkPassphrase"`
	MinResourceFee    uint64 `json:"minResourceFee"`
}

func viewSponsorship(sp *sponsor.Sponsored) sponsorshipView {
	return sponsorshipView{
		Envelope:          sp.EnvelopeB64,
		TxHash:            sp.TxHash,
		FeePayer:          sp.FeePayer,
		NetworkPassphrase: sp.NetworkPassphrase,
		MinResourceFee:    sp.MinResourceFee,
	}
}

func decodeJSON(r *http.Request, into any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return &ledger.ValidationError{Msg: "request body is not valid JSON"}
	}
	return nil
}

type createPaymentRequest struct {
	FromAddress string `json:"fromAddress"`
	MerchantID  string `json:"merchantId"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	payer, err := crypto.ParseAddress(strings.TrimSpace(req.FromAddress))
	if err != nil {
		writeError(w, &ledger.ValidationError{Msg: "fromAddress is not a valid G... address"})
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.compliance.CheckPayment(r.Context(), payer.String(), req.MerchantID, amount); err != nil {
		writeError(w, err)
		return
	}
	if s.engine == nil {
		writeError(w, sponsor.ErrFeePayerNotConfigured)
		return
	}

	payment := &storage.Payment{
		FromAddress: payer.String(),
		MerchantID:  strings.TrimSpace(req.MerchantID),
		SendAsset:   asset.String(),
		SendAmount:  amount.String(),
		Memo:        strings.TrimSpace(req.Memo),
	}
	if err := s.store.CreatePayment(r.Context(), payment); err != nil {
		writeError(w, err)
		return
	}

	envelope, err := s.builder.BuildPayment(payer, payment.MerchantID, asset, amount, payment.Memo)
	if err == nil {
		var sponsored *sponsor.Sponsored
		sponsored, err = s.engine.Sponsor(r.Context(), envelope)
		if err == nil {
			writeJSON(w, http.StatusCreated, map[string]any{
				"payment":     viewPayment(payment),
				"sponsorship": viewSponsorship(sponsored),
			})
			return
		}
	}

	// The row stays as the audit record of the attempt; the client cannot
	// complete it without a sponsored envelope, so it is failed here.
	if failErr := s.store.FailPayment(r.Context(), payment.ID, "sponsorship"); failErr != nil {
		s.log.Error("fail payment after sponsorship error", "payment_id", payment.ID, "error", failErr.Error())
	}
	s.log.Warn("payment sponsorship failed", "payment_id", payment.ID, "error", err.Error())
	writeError(w, err)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, &ledger.ValidationError{Msg: "payment id is not a UUID"})
		return
	}
	payment, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPayment(payment))
}

type createTransferRequest struct {
	FromUserID  string `json:"fromUserId"`
	ToUserID    string `json:"toUserId"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
	Sponsor     *bool  `json:"sponsor"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := crypto.ParseAddress(strings.TrimSpace(req.FromAddress))
	if err != nil {
		writeError(w, &ledger.ValidationError{Msg: "fromAddress is not a valid G... address"})
		return
	}
	to, err := crypto.ParseAddress(strings.TrimSpace(req.ToAddress))
	if err != nil {
		writeError(w, &ledger.ValidationError{Msg: "toAddress is not a valid G... address"})
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.compliance.CheckPayment(r.Context(), from.String(), to.String(), amount); err != nil {
		writeError(w, err)
		return
	}
	wantSponsor := req.Sponsor == nil || *req.Sponsor
	if wantSponsor && s.engine == nil {
		writeError(w, sponsor.ErrFeePayerNotConfigured)
		return
	}

	transfer := &storage.Transfer{
		FromUserID:  strings.TrimSpace(req.FromUserID),
		ToUserID:    strings.TrimSpace(req.ToUserID),
		FromAddress: from.String(),
		ToAddress:   to.String(),
		SendAsset:   asset.String(),
		SendAmount:  amount.String(),
		Memo:        strings.TrimSpace(req.Memo),
	}
	if err := s.store.CreateTransfer(r.Context(), transfer); err != nil {
		writeError(w, err)
		return
	}

	envelope, err := s.builder.BuildTransfer(from, to, asset, amount, transfer.Memo)
	if err == nil {
		if !wantSponsor {
			// The caller signs and sponsors elsewhere; hand back the
			// unsigned envelope only.
			var encoded string
			if encoded, err = envelope.Base64(); err == nil {
				writeJSON(w, http.StatusCreated, map[string]any{
					"transfer":          viewTransfer(transfer),
					"envelope":          encoded,
					"networkPassphrase": s.network.Passphrase,
				})
				return
			}
		} else {
			var sponsored *sponsor.Sponsored
			if sponsored, err = s.engine.Sponsor(r.Context(), envelope); err == nil {
				writeJSON(w, http.StatusCreated, map[string]any{
					"transfer":    viewTransfer(transfer),
					"sponsorship": viewSponsorship(sponsored),
				})
				return
			}
		}
	}

	if failErr := s.store.FailTransfer(r.Context(), transfer.ID, "sponsorship"); failErr != nil {
		s.log.Error("fail transfer after build error", "transfer_id", transfer.ID, "error", failErr.Error())
	}
	s.log.Warn("transfer build failed", "transfer_id", transfer.ID, "error", err.Error())
	writeError(w, err)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, &ledger.ValidationError{Msg: "transfer id is not a UUID"})
		return
	}
	transfer, err := s.store.GetTransfer(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTransfer(transfer))
}

type submitRequest struct {
	Envelope   string `json:"envelope"`
	PaymentID  string `json:"paymentId"`
	TransferID string `json:"transferId"`
}

// handleSubmitTransaction accepts a fully-signed envelope (user plus fee
// payer), submits it, and waits for finality within the configured
// deadline. The linked row moves to PROCESSING as soon as the hash is
// known; completion stays with the reconciliation loop, which sees the
// settlement event regardless of how this wait ends.
func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.submitter == nil {
		writeError(w, &sponsor.ConfigurationError{Msg: "submission is not enabled"})
		return
	}
	envelope, err := ledger.ParseEnvelope(strings.TrimSpace(req.Envelope))
	if err != nil {
		writeError(w, &ledger.ValidationError{Msg: "envelope is not decodable"})
		return
	}
	hash, err := envelope.Tx.Hash(s.network.ID())
	if err != nil {
		writeError(w, &ledger.ValidationError{Msg: "envelope cannot be hashed"})
		return
	}

	if err := s.markProcessing(r, req, hash); err != nil {
		writeError(w, err)
		return
	}

	confirmation, err := s.submitter.Submit(r.Context(), strings.TrimSpace(req.Envelope))
	if err != nil {
		var timeout *sponsor.FinalityTimeoutError
		switch {
		case errors.As(err, &timeout):
			// Still pending; the row stays PROCESSING and the
			// ingestion loop settles it.
			writeJSON(w, http.StatusAccepted, map[string]any{
				"txHash": timeout.Hash,
				"status": "PENDING",
			})
		default:
			s.failLinked(r, req, "submission")
			writeError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"txHash": confirmation.Hash,
		"ledger": confirmation.Ledger,
		"status": "SUCCESS",
	})
}

func (s *Server) markProcessing(r *http.Request, req submitRequest, hash string) error {
	if id, ok := parseOptionalID(req.PaymentID); ok {
		return s.store.MarkPaymentProcessing(r.Context(), id, hash)
	}
	if id, ok := parseOptionalID(req.TransferID); ok {
		return s.store.MarkTransferProcessing(r.Context(), id, hash)
	}
	return nil
}

func (s *Server) failLinked(r *http.Request, req submitRequest, reason string) {
	var err error
	if id, ok := parseOptionalID(req.PaymentID); ok {
		err = s.store.FailPayment(r.Context(), id, reason)
	} else if id, ok := parseOptionalID(req.TransferID); ok {
		err = s.store.FailTransfer(r.Context(), id, reason)
	}
	if err != nil {
		s.log.Error("fail linked record", "error", err.Error())
	}
}

func parseOptionalID(raw string) (uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

type qrRequest struct {
	MerchantID string `json:"merchantId"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
}

// handleQRPayload renders the canonical pay URI for a merchant checkout
// and, best-effort, a pre-sponsored envelope built around the fee payer as
// placeholder sender. Wallets that can rebuild locally only need the URI.
func (s *Server) handleQRPayload(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	merchant := strings.TrimSpace(req.MerchantID)
	if merchant == "" {
		writeError(w, &ledger.ValidationError{Msg: "merchant id is required"})
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.Memo) > ledger.MaxMemoBytes {
		writeError(w, &ledger.ValidationError{Msg: "memo exceeds 28 bytes"})
		return
	}
	if err := s.compliance.CheckPayment(r.Context(), "", merchant, amount); err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{
		"uri":               BuildPayURI(merchant, asset, amount, req.Memo),
		"networkPassphrase": s.network.Passphrase,
	}
	if sp, ok := s.placeholderSponsorship(r, merchant, asset, amount, req.Memo); ok {
		response["sponsorship"] = sp
	}
	writeJSON(w, http.StatusOK, response)
}

// placeholderSponsorship builds and sponsors an envelope with the fee
// payer standing in as sender, for scan-to-pay artifacts whose real payer
// is unknown until the wallet rebuilds locally. Best effort: any failure
// is logged and the artifact ships without it.
func (s *Server) placeholderSponsorship(r *http.Request, merchant string, asset ledger.Asset, amount *big.Int, memo string) (sponsorshipView, bool) {
	if s.engine == nil || s.engine.FeePayer() == "" {
		return sponsorshipView{}, false
	}
	placeholder, err := crypto.ParseAddress(s.engine.FeePayer())
	if err != nil {
		return sponsorshipView{}, false
	}
	envelope, err := s.builder.BuildPayment(placeholder, merchant, asset, amount, memo)
	if err == nil {
		var sponsored *sponsor.Sponsored
		if sponsored, err = s.engine.Sponsor(r.Context(), envelope); err == nil {
			return viewSponsorship(sponsored), true
		}
	}
	s.log.Info("pre-sponsorship skipped", "merchant", merchant, "error", err.Error())
	return sponsorshipView{}, false
}

type nfcRequest struct {
	Payload string `json:"payload"`
}

// handleNFCPayload validates a tapped payload and returns its normalized
// fields so the client can confirm before building the real payment.
func (s *Server) handleNFCPayload(w http.ResponseWriter, r *http.Request) {
	var req nfcRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	parsed, err := ParsePayURI(req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.compliance.CheckPayment(r.Context(), "", parsed.MerchantID, parsed.Amount); err != nil {
		writeError(w, err)
		return
	}
	response := map[string]any{
		"valid":      true,
		"merchantId": parsed.MerchantID,
		"asset":      parsed.Asset.String(),
		"amount":     parsed.Amount.String(),
		"memo":       parsed.Memo,
	}
	if sp, ok := s.placeholderSponsorship(r, parsed.MerchantID, parsed.Asset, parsed.Amount, parsed.Memo); ok {
		response["sponsorship"] = sp
	}
	writeJSON(w, http.StatusOK, response)
}
