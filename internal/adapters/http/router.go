package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/clearbill/claims-intake/internal/core/domain"
	"github.com/clearbill/claims-intake/internal/core/ports"
	"github.com/clearbill/claims-intake/internal/observability/metrics"
)

const (
	userIDHeader   = "X-User-Id"
	userRoleHeader = "X-User-Role"

	defaultMaxUploadBytes = 5 << 20
	backpressureWait      = 100 * time.Millisecond
)

// Exporter produces the reviewer-facing claims workbook.
type Exporter interface {
	ExportClaimsXLSX(ctx context.Context) ([]byte, error)
}

type Router struct {
	ingest    ports.ClaimIngestor
	processor ports.ClaimProcessor
	reader    ports.ClaimReader
	admin     ports.ClaimAdministrator
	exporter  Exporter
	metrics   *metrics.HTTPServerMetrics

	service        string
	maxUploadBytes int64
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
}

type RouterOptions struct {
	Service        string
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	Metrics        *metrics.HTTPServerMetrics
}

func NewRouter(
	ingest ports.ClaimIngestor,
	processor ports.ClaimProcessor,
	reader ports.ClaimReader,
	admin ports.ClaimAdministrator,
	exporter Exporter,
	options RouterOptions,
) *Router {
	service := options.Service
	if service == "" {
		service = "claims-api"
	}
	maxUploadBytes := options.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}

	return &Router{
		ingest:         ingest,
		processor:      processor,
		reader:         reader,
		admin:          admin,
		exporter:       exporter,
		metrics:        options.Metrics,
		service:        service,
		maxUploadBytes: maxUploadBytes,
		rateLimitRPS:   options.RateLimitRPS,
		rateLimitBurst: options.RateLimitBurst,
		maxInFlight:    options.MaxInFlight,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /api/claims/upload", rt.uploadClaim)
	mux.HandleFunc("GET /api/claims", rt.listClaims)
	mux.HandleFunc("GET /api/claims/export", rt.exportClaims)
	mux.HandleFunc("GET /api/claims/{id}", rt.getClaim)
	mux.HandleFunc("PUT /api/claims/{id}", rt.updateNotes)
	mux.HandleFunc("GET /api/claims/{id}/status", rt.getClaimStatus)
	mux.HandleFunc("GET /api/claims/{id}/download", rt.downloadClaim)
	mux.HandleFunc("POST /api/claims/{id}/reprocess", rt.reprocessClaim)
	mux.HandleFunc("PUT /api/claims/{id}/status", rt.updateClaimStatus)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identity struct {
	UserID string
	Role   domain.Role
}

func (id identity) isAdmin() bool {
	return id.Role == domain.RoleAdmin
}

// requireIdentity reads the caller identity placed by the upstream gateway.
// Requests without it never reach a use case.
func requireIdentity(w http.ResponseWriter, r *http.Request) (identity, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return identity{}, false
	}

	role := domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(userRoleHeader))))
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		writeError(w, http.StatusUnauthorized, "unknown role in "+userRoleHeader+" header")
		return identity{}, false
	}
	return identity{UserID: userID, Role: role}, true
}

func (rt *Router) uploadClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			rt.recordUploadRejected("too_large")
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", rt.maxUploadBytes))
			return
		}
		rt.recordUploadRejected("missing_file")
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	claim, err := rt.ingest.Upload(r.Context(), fileHeader.Filename, file, caller.UserID)
	if err != nil {
		rt.recordUploadRejected("invalid")
		rt.respondError(w, r, "upload claim", err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordUpload(rt.service, int(fileHeader.Size))
	}
	writeData(w, http.StatusCreated, claim)
}

func (rt *Router) listClaims(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var (
		claims []domain.Claim
		err    error
	)
	if caller.isAdmin() {
		claims, err = rt.reader.ListAll(r.Context())
	} else {
		claims, err = rt.reader.List(r.Context(), caller.UserID)
	}
	if err != nil {
		rt.respondError(w, r, "list claims", err)
		return
	}
	writeData(w, http.StatusOK, claims)
}

func (rt *Router) getClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	claim, err := rt.reader.Get(r.Context(), r.PathValue("id"), rt.scopeUserID(caller))
	if err != nil {
		rt.respondError(w, r, "get claim", err)
		return
	}
	writeData(w, http.StatusOK, claim)
}

func (rt *Router) getClaimStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	status, err := rt.reader.GetStatus(r.Context(), r.PathValue("id"), rt.scopeUserID(caller))
	if err != nil {
		rt.respondError(w, r, "get claim status", err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (rt *Router) downloadClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	content, fileKey, err := rt.reader.OpenFile(r.Context(), r.PathValue("id"), rt.scopeUserID(caller))
	if err != nil {
		rt.respondError(w, r, "download claim file", err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(fileKey)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, content)
}

func (rt *Router) reprocessClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	claim, err := rt.processor.Reprocess(r.Context(), r.PathValue("id"), rt.scopeUserID(caller))
	if err != nil {
		rt.recordReprocess("rejected")
		rt.respondError(w, r, "reprocess claim", err)
		return
	}

	rt.recordReprocess("accepted")
	writeData(w, http.StatusAccepted, claim)
}

func (rt *Router) updateNotes(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	claim, err := rt.admin.UpdateNotes(r.Context(), r.PathValue("id"), caller.UserID, req.Notes)
	if err != nil {
		rt.respondError(w, r, "update claim notes", err)
		return
	}
	writeData(w, http.StatusOK, claim)
}

func (rt *Router) updateClaimStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if !caller.isAdmin() {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	var req struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	claim, err := rt.admin.UpdateStatus(
		r.Context(),
		r.PathValue("id"),
		caller.UserID,
		domain.ClaimStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		req.Notes,
	)
	if err != nil {
		rt.respondError(w, r, "update claim status", err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordReview(rt.service, string(claim.Status))
	}
	writeData(w, http.StatusOK, claim)
}

func (rt *Router) exportClaims(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if !caller.isAdmin() {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	if rt.exporter == nil {
		writeError(w, http.StatusNotFound, "export is not enabled")
		return
	}

	workbook, err := rt.exporter.ExportClaimsXLSX(r.Context())
	if err != nil {
		rt.respondError(w, r, "export claims", err)
		return
	}

	filename := "claims-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(workbook)
}

// scopeUserID returns the owner filter for read paths: admins see every
// claim, users only their own.
func (rt *Router) scopeUserID(caller identity) string {
	if caller.isAdmin() {
		return ""
	}
	return caller.UserID
}

func (rt *Router) respondError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(operation,
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: payload})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}

func (rt *Router) recordUploadRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordUploadRejected(rt.service, reason)
	}
}

func (rt *Router) recordReprocess(outcome string) {
	if rt.metrics != nil {
		rt.metrics.RecordReprocess(rt.service, outcome)
	}
}
