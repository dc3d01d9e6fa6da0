package server

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

// pdfMagic is the header every PDF file starts with.
var pdfMagic = []byte("%PDF-")

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Jobs:    s.jobs.Stats(),
	})
}

// submitHandler accepts a multipart upload and creates a job. With sync=true
// it waits for the job and replies with the result.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(min(limit, 32<<20)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, apperr.CodeInvalid, "upload exceeds "+strconv.FormatInt(s.maxUploadMB, 10)+" MB")
			return
		}
		s.writeError(w, http.StatusBadRequest, apperr.CodeInvalid, "failed to parse form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, apperr.CodeInvalid, "no document provided in field \"file\"")
		return
	}
	defer func() { _ = file.Close() }()

	req, sync, err := parseSubmitForm(r)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	path, err := s.saveUpload(file, header)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	uploadSizeBytes.Observe(float64(header.Size))
	req.Source = path
	req.Name = header.Filename
	cleanup := func() { _ = os.RemoveAll(filepath.Dir(path)) }

	if sync {
		res, err := s.jobs.Run(r.Context(), req)
		cleanup()
		if res == nil {
			s.writeAppError(w, err)
			return
		}
		s.logger.Info("server.job.sync", "name", req.Name, "status", res.Status, "rows", len(res.Table.Rows))
		s.writeJSON(w, http.StatusOK, res)
		return
	}

	id, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		cleanup()
		s.writeAppError(w, err)
		return
	}
	go func() {
		defer cleanup()
		_, _ = s.jobs.Wait(s.base, id)
	}()

	s.logger.Info("server.job.accepted", "job_id", id, "name", req.Name, "bytes", header.Size)
	w.Header().Set("Location", "/jobs/"+id)
	s.writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id, State: jobs.StateSubmitted})
}

// parseSubmitForm reads the optional job overrides from the form.
func parseSubmitForm(r *http.Request) (jobs.Request, bool, error) {
	var req jobs.Request
	bad := func(field string, err error) error {
		return fmt.Errorf("%w: %s: %w", apperr.ErrInvalidRequest, field, err)
	}

	for l := range strings.SplitSeq(r.FormValue("languages"), ",") {
		if l = strings.TrimSpace(l); l != "" {
			req.Languages = append(req.Languages, l)
		}
	}
	if v := r.FormValue("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil {
			return req, false, bad("dpi", err)
		}
		req.ResolutionDPI = dpi
	}
	if v := r.FormValue("confidence_floor"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, false, bad("confidence_floor", err)
		}
		req.ConfidenceFloor = &f
	}
	for field, dst := range map[string]*time.Duration{
		"page_timeout": &req.PageTimeout,
		"job_timeout":  &req.JobTimeout,
	} {
		if v := r.FormValue(field); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return req, false, bad(field, err)
			}
			if d < 0 {
				return req, false, bad(field, errors.New("must be non-negative"))
			}
			*dst = d
		}
	}
	sync := false
	if v := r.FormValue("sync"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, false, bad("sync", err)
		}
		sync = b
	}
	return req, sync, nil
}

// saveUpload copies the upload into a fresh directory under uploadDir,
// keeping its base name. Files that do not start with a PDF header are
// rejected before anything is written.
func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	br := bufio.NewReader(file)
	head, _ := br.Peek(len(pdfMagic))
	if !bytes.Equal(head, pdfMagic) {
		return "", fmt.Errorf("%w: %s is not a PDF document", apperr.ErrInvalidRequest, header.Filename)
	}

	dir, err := os.MkdirTemp(s.uploadDir, "upload-")
	if err != nil {
		return "", err
	}
	name := filepath.Base(filepath.Clean("/" + header.Filename))
	if name == "/" || name == "." {
		name = "document.pdf"
	}
	path := filepath.Join(dir, name)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if _, err := io.Copy(out, br); err != nil {
		_ = out.Close()
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

func (s *Server) listHandler(w http.ResponseWriter, _ *http.Request) {
	list := s.jobs.List()
	for i := range list {
		list[i].Result = nil
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Jobs: list, Count: len(list)})
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.Cancel(id); err != nil {
		s.writeAppError(w, err)
		return
	}
	snap, err := s.jobs.Get(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, snap)
}

// resultHandler serves the table of a finished job as xlsx, csv or json.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if !snap.State.Terminal() || snap.Result == nil {
		s.writeError(w, http.StatusConflict, "NOT_FINISHED", "job "+snap.ID+" is "+string(snap.State))
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if format == "json" {
		resultDownloads.WithLabelValues(format).Inc()
		s.writeJSON(w, http.StatusOK, snap.Result)
		return
	}

	enc, err := sink.ForFormat(format, s.sinkOpts, s.logger)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	// Encode into memory so a failure can still be reported as an error
	// response.
	var buf bytes.Buffer
	if err := enc.Encode(&buf, snap.Result.Table, snap.Result.Manifest); err != nil {
		s.logger.Error("server.result.encode.failed", "job_id", snap.ID, "format", format, "error", err)
		s.writeError(w, http.StatusInternalServerError, apperr.CodeInternal, "failed to encode result")
		return
	}

	resultDownloads.WithLabelValues(format).Inc()
	w.Header().Set("Content-Type", enc.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(snap)+enc.Extension()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func downloadName(snap jobs.Snapshot) string {
	name := filepath.Base(cmp.Or(snap.Name, snap.ID))
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrAlreadyFinished):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	switch apperr.Code(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalid:
		return http.StatusBadRequest
	case apperr.CodeAdmission:
		return http.StatusTooManyRequests
	case apperr.CodeUnreadable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := apperr.Code(err)
	if errors.Is(err, jobs.ErrAlreadyFinished) {
		code = "ALREADY_FINISHED"
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("server.request.failed", "error", err)
	}
	s.writeError(w, status, code, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("server.response.encode.failed", "error", err)
	}
}
