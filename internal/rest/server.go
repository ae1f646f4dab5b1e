// Package rest serves the read only system endpoints of the host: metrics, status and the record log.
// Commands are never accepted over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pbinitiative/zenbpm-embedded/internal/log"
	"github.com/pbinitiative/zenbpm-embedded/internal/profile"
	"github.com/pbinitiative/zenbpm-embedded/internal/rest/middleware"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
	"github.com/pbinitiative/zenbpm-embedded/pkg/embedded"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	RecordsDefaultLimit = 100
	RecordsMaxLimit     = 1000
)

type Server struct {
	engine *embedded.Engine
	addr   string
	server *http.Server
}

type ApiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type RecordsPage struct {
	Records      record.Records `json:"records"`
	NextPosition int64          `json:"nextPosition"`
}

type ProcessInstance struct {
	Key                  int64          `json:"key"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	BpmnProcessId        string         `json:"bpmnProcessId"`
	Version              int32          `json:"version"`
	State                string         `json:"state"`
	Variables            map[string]any `json:"variables"`
	CreatedAt            time.Time      `json:"createdAt"`
}

type Incident struct {
	Key                int64     `json:"key"`
	ErrorType          string    `json:"errorType"`
	Message            string    `json:"message"`
	ElementId          string    `json:"elementId"`
	ElementInstanceKey int64     `json:"elementInstanceKey"`
	ProcessInstanceKey int64     `json:"processInstanceKey"`
	JobKey             int64     `json:"jobKey"`
	CreatedAt          time.Time `json:"createdAt"`
}

func NewServer(engine *embedded.Engine, addr string) *Server {
	s := Server{
		engine: engine,
		addr:   addr,
	}
	s.server = &http.Server{
		ReadHeaderTimeout: 3 * time.Second,
		Handler:           s.Handler(),
		Addr:              addr,
	}
	return &s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Opentelemetry())
	r.Use(middleware.StripEmptyQueryParams())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/records", s.getRecords)
		r.Get("/process-definitions/{bpmnProcessId}", s.getProcessDefinitions)
		r.Get("/process-instances/{processInstanceKey}", s.getProcessInstance)
		r.Get("/process-instances/{processInstanceKey}/incidents", s.getIncidents)
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJson(w, http.StatusOK, s.engine.Status())
		})
		if profile.ProfilerEnabled() {
			r.Mount("/debug", chimiddleware.Profiler())
		}
	})
	return r
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	log.Info("ZenBpm system server listening on %s", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

// getRecords pages through the log, filters apply within the page
func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := int64Param(query.Get("from"), 1)
	if err != nil || from < 1 {
		writeError(w, http.StatusBadRequest, "from must be a positive position")
		return
	}
	limit, err := int64Param(query.Get("limit"), RecordsDefaultLimit)
	if err != nil || limit < 1 || limit > RecordsMaxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(RecordsMaxLimit))
		return
	}
	processInstanceKey, err := int64Param(query.Get("processInstanceKey"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "processInstanceKey must be a number")
		return
	}

	all := s.engine.Records()
	page := record.Records{}
	if from <= int64(len(all)) {
		page = all[from-1 : min(int64(len(all)), from-1+limit)]
	}
	next := from + int64(len(page))
	if valueType := query.Get("valueType"); valueType != "" {
		page = page.OfValueType(record.ValueType(valueType))
	}
	if intent := query.Get("intent"); intent != "" {
		page = page.WithIntent(record.Intent(intent))
	}
	if processInstanceKey != 0 {
		page = page.WithProcessInstanceKey(processInstanceKey)
	}
	writeJson(w, http.StatusOK, RecordsPage{Records: page, NextPosition: next})
}

func (s *Server) getProcessDefinitions(w http.ResponseWriter, r *http.Request) {
	engine := s.engine.BpmnEngine()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, embedded.ErrNotStarted.Error())
		return
	}
	definitions, err := engine.FindProcessesById(r.Context(), chi.URLParam(r, "bpmnProcessId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if len(definitions) == 0 {
		writeEngineError(w, &bpmn.NotFoundError{Entity: "process", Id: chi.URLParam(r, "bpmnProcessId")})
		return
	}
	type definition struct {
		Key           int64  `json:"key"`
		BpmnProcessId string `json:"bpmnProcessId"`
		Version       int32  `json:"version"`
		ResourceName  string `json:"resourceName"`
	}
	resp := make([]definition, 0, len(definitions))
	for _, d := range definitions {
		resp = append(resp, definition{Key: d.Key, BpmnProcessId: d.BpmnProcessId, Version: d.Version, ResourceName: d.BpmnResourceName})
	}
	writeJson(w, http.StatusOK, resp)
}

func (s *Server) getProcessInstance(w http.ResponseWriter, r *http.Request) {
	engine, key, ok := s.instanceRequest(w, r)
	if !ok {
		return
	}
	instance, err := engine.FindProcessInstance(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJson(w, http.StatusOK, ProcessInstance{
		Key:                  instance.Key,
		ProcessDefinitionKey: instance.ProcessDefinitionKey,
		BpmnProcessId:        instance.BpmnProcessId,
		Version:              instance.Version,
		State:                string(instance.State),
		Variables:            instance.Variables,
		CreatedAt:            instance.CreatedAt,
	})
}

func (s *Server) getIncidents(w http.ResponseWriter, r *http.Request) {
	engine, key, ok := s.instanceRequest(w, r)
	if !ok {
		return
	}
	if _, err := engine.FindProcessInstance(r.Context(), key); err != nil {
		writeEngineError(w, err)
		return
	}
	incidents, err := engine.FindIncidents(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := make([]Incident, 0, len(incidents))
	for _, incident := range incidents {
		resp = append(resp, Incident{
			Key:                incident.Key,
			ErrorType:          string(incident.ErrorType),
			Message:            incident.Message,
			ElementId:          incident.ElementId,
			ElementInstanceKey: incident.ElementInstanceKey,
			ProcessInstanceKey: incident.ProcessInstanceKey,
			JobKey:             incident.JobKey,
			CreatedAt:          incident.CreatedAt,
		})
	}
	writeJson(w, http.StatusOK, resp)
}

func (s *Server) instanceRequest(w http.ResponseWriter, r *http.Request) (*bpmn.Engine, int64, bool) {
	engine := s.engine.BpmnEngine()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, embedded.ErrNotStarted.Error())
		return nil, 0, false
	}
	key, err := strconv.ParseInt(chi.URLParam(r, "processInstanceKey"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "process instance key must be a number")
		return nil, 0, false
	}
	return engine, key, true
}

func int64Param(value string, def int64) (int64, error) {
	if value == "" {
		return def, nil
	}
	return strconv.ParseInt(value, 10, 64)
}

func writeEngineError(w http.ResponseWriter, err error) {
	var notFound *bpmn.NotFoundError
	var validation *bpmn.ValidationError
	switch {
	case errors.As(err, &notFound):
		writeJson(w, http.StatusNotFound, ApiError{Message: err.Error(), Type: "NOT_FOUND"})
	case errors.As(err, &validation):
		writeJson(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
	default:
		writeJson(w, http.StatusInternalServerError, ApiError{Message: err.Error(), Type: "ERROR"})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	errorType := "BAD_REQUEST"
	if status >= http.StatusInternalServerError {
		errorType = "ERROR"
	}
	writeJson(w, status, ApiError{Message: message, Type: errorType})
}

func writeJson(w http.ResponseWriter, status int, resp any) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Error("Server error: %s", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
