package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/eventimport/internal/core"
	"github.com/JonMunkholm/eventimport/internal/logging"
)

// maxMemory is how much of a multipart upload is buffered in memory before
// spilling to temporary files.
const maxMemory = 32 << 20

// jobView is the JSON form of a job: the job itself plus its progress and
// the mapping the import will use.
type jobView struct {
	*core.ImportJob
	Progress int          `json:"progress"`
	Mapping  core.Mapping `json:"mapping,omitempty"`
}

func newJobView(job *core.ImportJob) jobView {
	v := jobView{ImportJob: job, Progress: job.Progress()}
	if job.ImportedData != nil {
		v.Mapping = job.ImportedData.Mapping
	}
	return v
}

// uploadResponse is returned by POST /api/imports.
type uploadResponse struct {
	Job     jobView             `json:"job"`
	Preview *core.ParsedPreview `json:"preview"`
}

// acceptedResponse is returned when an import starts in the background.
type acceptedResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queue":  s.service.QueueStatus(),
	})
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListImportTypes())
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.QueueStatus())
}

// handleDownloadTemplate serves the starter CSV of an import type.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	importType, err := importTypeParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	body, err := s.service.GenerateTemplate(importType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", core.TemplateFileName(importType)))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// handleUpload parses a multipart upload (fields "file" and "import_type")
// and creates a pending job. The response carries the preview and the
// suggested mapping for review.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+maxMemory)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.respondError(w, r, err)
			return
		}
		s.respondError(w, r, badRequest("multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, core.ErrNoFile)
		return
	}
	defer file.Close()

	req := createImportRequest{
		ImportType: r.FormValue("import_type"),
		FileName:   header.Filename,
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, r, invalidFields(err))
		return
	}
	importType, err := core.ParseImportType(req.ImportType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	job, preview, err := s.service.CreateJob(r.Context(), file, req.FileName, importType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/imports/"+job.ID.String())
	writeJSON(w, http.StatusCreated, uploadResponse{Job: newJobView(job), Preview: preview})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	job, err := s.service.GetJob(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// handleUpdateMapping replaces the confirmed mapping of a pending job.
func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req updateMappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	job, err := s.service.UpdateMapping(r.Context(), id, req.toMapping())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// handleProcess starts a pending job. With ?wait=true the import runs
// within the request and the final job is returned; otherwise it runs in
// the background and 202 points at the job to poll.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	req, err := parseProcessRequest(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if !req.Wait {
		if err := s.service.StartImport(r.Context(), id); err != nil {
			s.respondError(w, r, err)
			return
		}
		statusURL := "/api/imports/" + id.String()
		w.Header().Set("Location", statusURL)
		writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: id.String(), StatusURL: statusURL})
		return
	}

	// A client disconnect must not interrupt a running import.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.Import.Timeout)
	defer cancel()

	job, err := s.service.ProcessImport(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "job_id", id).Info("import processed synchronously",
		"status", job.Status,
		"successful_rows", job.SuccessfulRows,
		"failed_rows", job.FailedRows,
	)
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	job, err := s.service.CancelJob(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteJob(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
