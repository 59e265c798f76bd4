// Package lbweb provides an HTTP/JSON interface to report storages and to a
// tracer: metadata search, report retrieval, export and import, reruns, and a
// server-sent event stream of closed reports.
//
//	GET    /storages
//	GET    /storages/{storage}/metadata?field=...&search=...&limit=...&type=...
//	GET    /storages/{storage}/reports/{id}
//	DELETE /storages/{storage}/reports/{id}
//	POST   /storages/{storage}/reports/{id}/rerun
//	GET    /storages/{storage}/export?id=...
//	POST   /storages/{storage}/import
//	GET    /tracer/in-progress
//	GET    /tracer/warnings
//	GET    /tracer/stream?name=...
package lbweb

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbrun"
	"github.com/frankframework/ladybug/lbstore"
)

// Config defines the configuration parameters for a server.
type Config struct {
	// Storages served by name. At least one is required.
	Storages []lbstore.Storage

	// Tracer for the tracer endpoints and reruns. Optional.
	Tracer *ladybug.Tracer

	// Rerunner used for reruns. Optional. By default, lbrun.Replay.
	Rerunner lbrun.Rerunner

	// Logger is optional.
	Logger *slog.Logger
}

// Server is an http.Handler.
type Server struct {
	storages map[string]lbstore.Storage
	names    []string
	tracer   *ladybug.Tracer
	rerunner lbrun.Rerunner
	logger   *slog.Logger
}

// NewServer returns a server.
func NewServer(cfg Config) (*Server, error) {
	if len(cfg.Storages) <= 0 {
		return nil, &lbstore.ConfigurationError{Problems: []string{"no storages"}}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		storages: map[string]lbstore.Storage{},
		tracer:   cfg.Tracer,
		rerunner: cfg.Rerunner,
		logger:   cfg.Logger,
	}
	for _, st := range cfg.Storages {
		if _, ok := s.storages[st.Name()]; ok {
			return nil, &lbstore.ConfigurationError{Problems: []string{fmt.Sprintf("duplicate storage name %q", st.Name())}}
		}
		s.storages[st.Name()] = st
		s.names = append(s.names, st.Name())
	}

	return s, nil
}

const maxRequestBodySizeBytes = 64 << 20

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "storages":
		s.handleStorages(w, r)

	case len(parts) >= 2 && parts[0] == "storages":
		st, ok := s.storages[parts[1]]
		if !ok {
			respondError(w, r, fmt.Errorf("storage %q not found", parts[1]), http.StatusNotFound)
			return
		}
		s.routeStorage(w, r, st, parts[2:])

	case len(parts) == 2 && parts[0] == "tracer":
		if s.tracer == nil {
			respondError(w, r, fmt.Errorf("no tracer"), http.StatusNotFound)
			return
		}
		switch parts[1] {
		case "in-progress":
			s.handleInProgress(w, r)
		case "warnings":
			s.handleWarnings(w, r)
		case "stream":
			s.handleStream(w, r)
		default:
			http.NotFound(w, r)
		}

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) routeStorage(w http.ResponseWriter, r *http.Request, st lbstore.Storage, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "metadata":
		s.handleMetadata(w, r, st)

	case len(parts) == 1 && parts[0] == "export":
		s.handleExport(w, r, st)

	case len(parts) == 1 && parts[0] == "import":
		s.handleImport(w, r, st)

	case len(parts) >= 2 && parts[0] == "reports":
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			respondError(w, r, fmt.Errorf("invalid storage ID %q", parts[1]), http.StatusBadRequest)
			return
		}
		switch {
		case len(parts) == 2:
			s.handleReport(w, r, st, id)
		case len(parts) == 3 && parts[2] == "rerun":
			s.handleRerun(w, r, st, id)
		default:
			http.NotFound(w, r)
		}

	default:
		http.NotFound(w, r)
	}
}

// StorageInfo describes a storage.
type StorageInfo struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Crud     bool   `json:"crud"`
	Warnings string `json:"warnings,omitempty"`
}

func (s *Server) handleStorages(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	infos := make([]StorageInfo, 0, len(s.names))
	for _, name := range s.names {
		st := s.storages[name]
		size, err := st.Size(r.Context())
		if err != nil {
			respondError(w, r, err, http.StatusInternalServerError)
			return
		}
		info := StorageInfo{Name: name, Size: size}
		if _, ok := st.(lbstore.CrudWriter); ok {
			info.Crud = true
		}
		if lw, ok := st.(lbstore.LogWriter); ok {
			info.Warnings = lw.WarningsAndErrors()
		}
		infos = append(infos, info)
	}

	respondJSON(w, r, http.StatusOK, infos)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, st lbstore.Storage) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	var (
		query = r.URL.Query()
		req   = lbstore.MetadataRequest{
			Fields:       query["field"],
			SearchValues: query["search"],
			Limit:        parseDefault(query.Get("limit"), strconv.Atoi, 0),
		}
	)
	if t := query.Get("type"); t != "" {
		vt, err := lbstore.ParseValueType(t)
		if err != nil {
			respondError(w, r, err, http.StatusBadRequest)
			return
		}
		req.ValueType = vt
	}

	records, err := st.Metadata(r.Context(), req)
	if err != nil {
		respondError(w, r, err, errorCode(err))
		return
	}
	if records == nil {
		records = [][]any{}
	}

	respondJSON(w, r, http.StatusOK, records)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, st lbstore.Storage, id int) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		report, err := st.Report(ctx, id)
		if err != nil {
			respondError(w, r, err, errorCode(err))
			return
		}

		if RequestExplicitlyAccepts(r, "application/xml", "text/xml") {
			doc, err := report.XML()
			if err != nil {
				respondError(w, r, err, http.StatusInternalServerError)
				return
			}
			w.Header().Set("content-type", "application/xml; charset=utf-8")
			io.WriteString(w, doc)
			return
		}

		respondJSON(w, r, http.StatusOK, report)

	case http.MethodDelete:
		crud, ok := st.(lbstore.CrudWriter)
		if !ok {
			respondError(w, r, fmt.Errorf("storage %q is read-only", st.Name()), http.StatusMethodNotAllowed)
			return
		}
		report, err := st.Report(ctx, id)
		if err != nil {
			respondError(w, r, err, errorCode(err))
			return
		}
		if err := crud.Delete(ctx, report); err != nil {
			respondError(w, r, err, errorCode(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("allow", "GET, DELETE")
		respondError(w, r, fmt.Errorf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request, st lbstore.Storage, id int) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.tracer == nil {
		respondError(w, r, fmt.Errorf("no tracer"), http.StatusNotFound)
		return
	}

	runner, err := lbrun.NewRunner(lbrun.Config{
		Tracer:   s.tracer,
		Source:   st,
		Rerunner: s.rerunner,
		Logger:   s.logger,
	})
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	res, err := runner.Run(r.Context(), id)
	if err != nil {
		respondError(w, r, err, errorCode(err))
		return
	}

	respondJSON(w, r, http.StatusOK, RerunResponse{
		StorageID: res.StorageID,
		Equal:     res.Equal,
		Diff:      res.Diff,
		Rerun:     res.Rerun,
	})
}

// RerunResponse is returned by the rerun endpoint.
type RerunResponse struct {
	StorageID int             `json:"storageId"`
	Equal     bool            `json:"equal"`
	Diff      string          `json:"diff,omitempty"`
	Rerun     *ladybug.Report `json:"rerun"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, st lbstore.Storage) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	ctx := r.Context()

	var ids []int
	for _, v := range r.URL.Query()["id"] {
		id, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, r, fmt.Errorf("invalid storage ID %q", v), http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) <= 0 {
		all, err := st.StorageIDs(ctx)
		if err != nil {
			respondError(w, r, err, errorCode(err))
			return
		}
		ids = all
	}

	reports := make([]*ladybug.Report, 0, len(ids))
	for _, id := range ids {
		report, err := st.Report(ctx, id)
		if err != nil {
			respondError(w, r, err, errorCode(err))
			return
		}
		reports = append(reports, report)
	}
	if len(reports) <= 0 {
		respondError(w, r, fmt.Errorf("no reports to export"), http.StatusNotFound)
		return
	}

	w.Header().Set("content-type", "application/gzip")
	w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", st.Name()+".ladybug.gz"))
	if err := lbstore.Export(w, reports...); err != nil {
		s.logger.ErrorContext(ctx, "export failed", "storage", st.Name(), "err", err)
	}
}

// ImportResponse is returned by the import endpoint.
type ImportResponse struct {
	StorageIDs []int `json:"storageIds"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, st lbstore.Storage) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	ctx := r.Context()

	reports, err := lbstore.Import(http.MaxBytesReader(w, r.Body, maxRequestBodySizeBytes))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var res ImportResponse
	switch x := st.(type) {
	case lbstore.CrudWriter:
		for _, report := range reports {
			if err := x.Store(ctx, report); err != nil {
				respondError(w, r, err, errorCode(err))
				return
			}
			res.StorageIDs = append(res.StorageIDs, report.StorageID)
		}

	case lbstore.LogWriter:
		for _, report := range reports {
			x.StoreWithoutError(ctx, report)
			res.StorageIDs = append(res.StorageIDs, report.StorageID)
		}

	default:
		respondError(w, r, fmt.Errorf("storage %q is read-only", st.Name()), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleInProgress(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	reports := s.tracer.InProgress()
	if reports == nil {
		reports = []*ladybug.Report{}
	}
	respondJSON(w, r, http.StatusOK, reports)
}

func (s *Server) handleWarnings(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	warnings := s.tracer.Warnings()
	if warnings == nil {
		warnings = []ladybug.CorrelationWarning{}
	}
	respondJSON(w, r, http.StatusOK, warnings)
}

func errorCode(err error) int {
	var (
		rerr *lbstore.RequestError
		cerr *lbstore.ConfigurationError
	)
	switch {
	case errors.Is(err, lbstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lbrun.ErrNoReport):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cerr):
		return http.StatusInternalServerError
	case errors.As(err, &rerr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("allow", method)
	respondError(w, r, fmt.Errorf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
	return false
}
