package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/metatx"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/relayer"

	"go.uber.org/zap"
)

const maxRelayBody = 256 << 10

// RelayService relayer.Service 满足此接口
type RelayService interface {
	ReserveNonce(ctx context.Context, address string) (uint64, error)
	Relay(ctx context.Context, body metatx.RelayBody) (string, error)
	Status(ctx context.Context, txHash string) (*relayer.RelayRecord, error)
}

// RelayHandler relayer HTTP 接口
type RelayHandler struct {
	svc    RelayService
	logger *zap.Logger
}

func NewRelayHandler(svc RelayService, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{svc: svc, logger: logger}
}

// RegisterRelayRoutes GET /nonce/{address}, POST /relay, GET /relay/{txHash}
func (r *Router) RegisterRelayRoutes(h *RelayHandler) {
	r.Handle("/nonce/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetNonce(w, req)
	})
	r.Handle("/relay", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.PostRelay(w, req)
	})
	r.Handle("/relay/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetStatus(w, req)
	})
}

func (h *RelayHandler) GetNonce(w http.ResponseWriter, r *http.Request) {
	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/nonce/"), "/")
	n, err := h.svc.ReserveNonce(r.Context(), address)
	if err != nil {
		h.writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metatx.NonceResponse{Nonce: strconv.FormatUint(n, 10)})
}

func (h *RelayHandler) PostRelay(w http.ResponseWriter, r *http.Request) {
	var body metatx.RelayBody
	if err := readBodyJSON(r, maxRelayBody, &body); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, metatx.ErrorResponse{Error: "invalid request body: " + err.Error(), Code: metatx.CodeBadRequest})
		return
	}
	hash, err := h.svc.Relay(r.Context(), body)
	if err != nil {
		h.writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metatx.RelayResponse{TransactionHash: hash})
}

func (h *RelayHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	txHash := strings.Trim(strings.TrimPrefix(r.URL.Path, "/relay/"), "/")
	if txHash == "" {
		writeError(w, http.StatusBadRequest, "transaction hash is required")
		return
	}
	rec, err := h.svc.Status(r.Context(), txHash)
	if err != nil {
		if errors.Is(err, relayer.ErrRelayNotFound) {
			writeError(w, http.StatusNotFound, "relay record not found")
			return
		}
		h.logger.Error("relay status lookup failed", zap.String("tx_hash", txHash), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "relay log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RelayHandler) writeRelayError(w http.ResponseWriter, err error) {
	var re *relayer.Error
	if errors.As(err, &re) {
		writeJSON(w, re.Status, metatx.ErrorResponse{Error: re.Message, Code: re.Code, Category: string(re.Category)})
		return
	}
	h.logger.Error("relay handler failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, metatx.ErrorResponse{Error: "internal error", Code: metatx.CodeRelayerUnavailable})
}
