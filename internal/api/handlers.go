/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the transfer orchestrator or snapshot service, and writing the HTTP
 * response. They act as the bridge between the web layer and the settlement
 * engine.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/ledger: Orchestrator, models, errors.
 * - pkg/rabbitmq: Callback event forwarding.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/paybridge/settlement-service/internal/app"
	"github.com/paybridge/settlement-service/internal/domain"
	"github.com/paybridge/settlement-service/internal/ledger"
	"github.com/paybridge/settlement-service/pkg/rabbitmq"
)

// SettlementHandlers holds the orchestrator and snapshot service handlers use.
type SettlementHandlers struct {
	service   *app.Service
	snapshots *ledger.SnapshotService
	producer  rabbitmq.Publisher
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
// producer may be nil when RabbitMQ is not configured.
func NewSettlementHandlers(service *app.Service, snapshots *ledger.SnapshotService, producer rabbitmq.Publisher) *SettlementHandlers {
	return &SettlementHandlers{service: service, snapshots: snapshots, producer: producer}
}

// transferRequestBody is the strict request shape for POST /transfer. Unknown
// fields are rejected so malformed client payloads fail early.
type transferRequestBody struct {
	SourcePaybill      string          `json:"source_paybill"`
	DestinationPaybill string          `json:"destination_paybill"`
	Amount             decimal.Decimal `json:"amount"`
}

// unrecoverableResponse is returned when compensation failed and an operator
// must reconcile the ledger manually.
type unrecoverableResponse struct {
	Detail string                 `json:"detail"`
	Report *domain.TransferResult `json:"report,omitempty"`
}

// TransferHandler handles POST /transfer: validates the body, executes the
// transfer, and returns the full step report.
func (h *SettlementHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var body transferRequestBody
	if err := decoder.Decode(&body); err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req := domain.TransferRequest{
		SourcePaybill:      strings.ToUpper(strings.TrimSpace(body.SourcePaybill)),
		DestinationPaybill: strings.ToUpper(strings.TrimSpace(body.DestinationPaybill)),
		Amount:             body.Amount,
	}
	if req.SourcePaybill == "" || req.DestinationPaybill == "" {
		h.writeError(w, http.StatusBadRequest, "source_paybill and destination_paybill are required.")
		return
	}

	result, err := h.service.ExecuteTransfer(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Transfer amount must be positive.")
		case errors.Is(err, ledger.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "One or both Paybill IDs not found.")
		case errors.Is(err, ledger.ErrInsufficientFunds):
			h.writeError(w, http.StatusBadRequest, "Insufficient balance in "+req.SourcePaybill+".")
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Transfer rate limit exceeded for "+req.SourcePaybill+".")
		case errors.Is(err, app.ErrCompensationFailure):
			log.Printf("level=error component=api endpoint=transfer outcome=unrecoverable source=%s destination=%s err=%v",
				req.SourcePaybill, req.DestinationPaybill, err)
			h.writeJSON(w, http.StatusInternalServerError, unrecoverableResponse{
				Detail: "Transfer failed and the ledger could not be fully restored; manual reconciliation required.",
				Report: result,
			})
		default:
			log.Printf("level=error component=api endpoint=transfer outcome=error source=%s destination=%s err=%v",
				req.SourcePaybill, req.DestinationPaybill, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error.")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// LedgerHandler handles GET /: returns service status plus a consistent
// snapshot of every account balance.
func (h *SettlementHandlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "Settlement Engine Running",
		"ledger": h.snapshots.Snapshot(),
	})
}

// STKCallbackHandler handles POST /mpesa/stkpush/callback: the asynchronous
// confirmation M-Pesa sends after an STK push. The payload is logged and
// republished for downstream consumers; it never mutates the ledger.
func (h *SettlementHandlers) STKCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=stk_callback outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid callback body.")
		return
	}

	log.Printf("level=info component=api endpoint=stk_callback msg=\"stk callback received\"")
	if h.producer != nil {
		if err := h.producer.Publish(r.Context(), rabbitmq.EventsExchange, "mpesa.stk.callback", payload); err != nil {
			log.Printf("level=warn component=api endpoint=stk_callback msg=\"callback event publish failed\" err=%v", err)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Callback accepted",
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses. The `detail` key
// matches the error contract the operator dashboard expects.
func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"detail": message})
}
