package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/pinstore"

	"go.uber.org/zap"
)

// PinHandler 内容存储 HTTP 接口
type PinHandler struct {
	svc     *pinstore.Service
	auth    *pinstore.Authenticator
	maxBody int64
	logger  *zap.Logger
}

func NewPinHandler(svc *pinstore.Service, auth *pinstore.Authenticator, maxBody int64, logger *zap.Logger) *PinHandler {
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	return &PinHandler{svc: svc, auth: auth, maxBody: maxBody, logger: logger}
}

type pinRequest struct {
	Content json.RawMessage   `json:"content"`
	Name    string            `json:"name"`
	Tags    map[string]string `json:"tags"`
}

type pinResponse struct {
	ContentID string `json:"contentId"`
	Timestamp string `json:"timestamp"`
}

// RegisterPinRoutes POST /pin, GET /ipfs/{cid}, GET /pins?tag=k:v
func (r *Router) RegisterPinRoutes(h *PinHandler) {
	r.Handle("/pin", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.authorize(w, req) {
			return
		}
		h.Pin(w, req)
	})
	r.Handle("/ipfs/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Get(w, req)
	})
	r.Handle("/pins", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.authorize(w, req) {
			return
		}
		h.List(w, req)
	})
}

// authorize 只有写入和列表需要 token；按 cid 读取是公开的（内容已加密）
func (h *PinHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.auth == nil || !h.auth.Enabled() {
		return true
	}
	claims, err := h.auth.Verify(r.Header.Get("Authorization"))
	if err != nil {
		h.logger.Info("pinstore request unauthorized", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	h.logger.Debug("pinstore caller", zap.String("subject", claims.Subject))
	return true
}

func (h *PinHandler) Pin(w http.ResponseWriter, r *http.Request) {
	var body pinRequest
	if err := readBodyJSON(r, h.maxBody, &body); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "content exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pin, err := h.svc.Pin(r.Context(), body.Content, body.Name, body.Tags)
	if err != nil {
		if errors.Is(err, pinstore.ErrEmpty) || errors.Is(err, pinstore.ErrBadContent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("pin failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, pinResponse{ContentID: pin.ContentID, Timestamp: pin.CreatedAt.Format(time.RFC3339)})
}

func (h *PinHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ipfs/"), "/")
	data, err := h.svc.Get(r.Context(), id)
	switch {
	case errors.Is(err, pinstore.ErrInvalidCID):
		writeError(w, http.StatusBadRequest, "invalid content id")
		return
	case errors.Is(err, pinstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "content not found")
		return
	case err != nil:
		h.logger.Error("fetch failed", zap.String("content_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage backend unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *PinHandler) List(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if _, _, ok := pinstore.ParseTag(tag); !ok {
		writeError(w, http.StatusBadRequest, "tag must be key:value")
		return
	}
	pins, err := h.svc.ListByTag(r.Context(), tag)
	if err != nil {
		h.logger.Error("list pins failed", zap.String("tag", tag), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pins": pins})
}
