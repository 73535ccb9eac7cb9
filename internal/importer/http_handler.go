package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"

	"github.com/google/uuid"
)

// maxUploadBytes caps the multipart payload before the template's own file
// size limit is consulted.
const maxUploadBytes = 64 << 20

// Handler exposes the import pipeline over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates the HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the import routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /imports", h.createBatch)
	mux.HandleFunc("GET /imports", h.listBatches)
	mux.HandleFunc("GET /imports/{id}", h.getBatch)
	mux.HandleFunc("POST /imports/{id}/actions", h.batchAction)
	mux.HandleFunc("DELETE /imports/{id}", h.deleteBatch)
	mux.HandleFunc("GET /imports/{id}/report", h.downloadReport)
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing file part"))
		return
	}
	defer func() { _ = file.Close() }()

	payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err))
		return
	}
	if len(payload) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("upload exceeds size limit"))
		return
	}

	uploaderID, err := uuid.Parse(r.FormValue("uploaderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("uploaderId must be a valid uuid"))
		return
	}

	input := CreateBatchInput{
		EntityType:      r.FormValue("entityType"),
		TemplateID:      r.FormValue("templateId"),
		TemplateVersion: r.FormValue("templateVersion"),
		UploaderID:      uploaderID,
		FileName:        header.Filename,
		Format:          formatFromFilename(header.Filename),
		Payload:         payload,
	}
	if input.EntityType == "" {
		writeError(w, http.StatusBadRequest, errors.New("entityType is required"))
		return
	}

	batch, issues, err := h.service.CreateBatch(r.Context(), input)
	if err != nil {
		// A FAILED batch is still created for structural upload errors; the
		// client gets the batch plus its issues rather than a bare error.
		if batch.ID != uuid.Nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"batch":  batch,
				"issues": issues,
			})
			return
		}
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"batch":  batch,
		"issues": issues,
	})
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	filter := domain.BatchFilter{
		EntityType: r.URL.Query().Get("entityType"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, domain.BatchStatus(strings.TrimSpace(status)))
		}
	}
	if raw := r.URL.Query().Get("uploaderId"); raw != "" {
		uploaderID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("uploaderId must be a valid uuid"))
			return
		}
		filter.UploaderID = &uploaderID
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	batches, total, err := h.service.ListBatches(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"total":   total,
	})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// actionRequest is the body of POST /imports/{id}/actions.
type actionRequest struct {
	Action string    `json:"action"`
	Edits  []RowEdit `json:"edits,omitempty"`
}

func (h *Handler) batchAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	switch strings.ToUpper(req.Action) {
	case "PATCH_ROWS":
		patched, issues, err := h.service.PatchRows(r.Context(), id, req.Edits)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"patchedRows": patched,
			"issues":      issues,
		})
	case "VALIDATE":
		batch, issues, err := h.service.Validate(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"batch":  batch,
			"issues": issues,
		})
	case "SIMULATE":
		snapshot, err := h.service.Simulate(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": snapshot})
	case "COMMIT":
		summary, err := h.service.Commit(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
	case "CANCEL":
		batch, err := h.service.Cancel(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (h *Handler) deleteBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) downloadReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	path, err := h.service.ReportPath(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrBatchTerminal),
		errors.Is(err, ErrSimulationRequired),
		errors.Is(err, ErrStaleSimulation):
		writeError(w, http.StatusConflict, err)
	default:
		if serviceErr, ok := AsServiceError(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": serviceErr.Message,
				"code":  serviceErr.Code,
			})
			return
		}
		log.Printf("[http] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("batch id must be a valid uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func formatFromFilename(name string) domain.FileFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return domain.FileFormatXLSX
	default:
		return domain.FileFormatCSV
	}
}
