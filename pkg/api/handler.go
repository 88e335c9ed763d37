// Package api maps inbound requests onto the provisioning and query engine
// and formats their outcomes as status code plus JSON body.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openfroyo/vpcforge/pkg/engine"
	"github.com/openfroyo/vpcforge/pkg/telemetry"
)

const (
	noItemsFound        = "No items found"
	internalServerError = "Internal Server Error"

	// maxBodyBytes bounds POST bodies read by ServeHTTP.
	maxBodyBytes = 1 << 20
)

// Engine is the part of *engine.Engine the handler calls.
type Engine interface {
	Provision(ctx context.Context, req *engine.ProvisionRequest) *engine.Result
	Query(ctx context.Context, req engine.QueryRequest) (*engine.QueryResult, error)
}

// Request is a transport-neutral inbound request. Query holds the query
// string parameters and Body the raw JSON body of a POST.
type Request struct {
	Method string            `json:"httpMethod"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"queryStringParameters,omitempty"`
	Body   string            `json:"body,omitempty"`
}

// Response carries a status code and a JSON encoded body.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// queryResponse is the body of a successful GET.
type queryResponse struct {
	Records    any    `json:"records"`
	Truncated  bool   `json:"truncated,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Handler dispatches requests by method: GET queries, POST provisions.
type Handler struct {
	engine Engine
	log    *telemetry.Logger
}

// NewHandler creates a handler. A nil logger discards output.
func NewHandler(e Engine, log *telemetry.Logger) *Handler {
	if log == nil {
		log = telemetry.NewNopLogger()
	}
	return &Handler{
		engine: e,
		log:    log.NewComponentLogger("api"),
	}
}

// Handle serves one request. It never panics: a panic anywhere below is
// answered with 500 "Internal Server Error".
func (h *Handler) Handle(ctx context.Context, req Request) (resp Response) {
	log := h.log.WithRequestID(uuid.NewString()).
		WithField("method", req.Method).
		WithField("path", req.Path)
	zlog := log.Zerolog()
	zlog.Info().Interface("query", req.Query).Msg("request received")

	defer func() {
		if r := recover(); r != nil {
			zlog.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("request handler panicked")
			resp = jsonResponse(http.StatusInternalServerError, internalServerError)
		}
		zlog.Info().Int("status", resp.StatusCode).Msg("response sent")
	}()

	ctx = log.WithContext(ctx)

	switch strings.ToUpper(req.Method) {
	case http.MethodGet:
		return h.query(ctx, req)
	case http.MethodPost:
		return h.provision(ctx, req)
	default:
		return jsonResponse(http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", req.Method))
	}
}

func (h *Handler) query(ctx context.Context, req Request) Response {
	q := engine.QueryRequest{Cursor: req.Query["cursor"]}

	name := req.Query["name"]
	if name == "" {
		name = req.Query["vpc_name"]
	}
	if name != "" {
		q.Name = &name
	}

	if v, ok := req.Query["include_incomplete"]; ok {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, "include_incomplete must be a boolean")
		}
		q.IncludeIncomplete = include
	}

	res, err := h.engine.Query(ctx, q)
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Error("query failed")
		return jsonResponse(queryErrorStatus(err), err.Error())
	}

	if !res.Found {
		return jsonResponse(http.StatusOK, noItemsFound)
	}
	return jsonResponse(http.StatusOK, queryResponse{
		Records:    res.Records,
		Truncated:  res.Truncated,
		NextCursor: res.NextCursor,
	})
}

func (h *Handler) provision(ctx context.Context, req Request) Response {
	preq, err := decodeProvisionRequest([]byte(req.Body))
	if err != nil {
		return jsonResponse(http.StatusBadRequest, err.Error())
	}

	res := h.engine.Provision(ctx, preq)
	if res == nil {
		return jsonResponse(http.StatusInternalServerError, internalServerError)
	}
	if res.Err != nil {
		telemetry.FromContext(ctx).WithError(res.Err).
			WithField("outcome", string(res.Outcome)).
			Warn("provisioning did not succeed")
	}
	return jsonResponse(StatusCode(res.Outcome), res)
}

// StatusCode maps a provisioning outcome to an HTTP status code.
func StatusCode(o engine.Outcome) int {
	switch o {
	case engine.OutcomeCreated:
		return http.StatusCreated
	case engine.OutcomeAlreadyExists:
		return http.StatusOK
	case engine.OutcomeInvalidRequest:
		return http.StatusBadRequest
	case engine.OutcomeInProgress:
		return http.StatusConflict
	case engine.OutcomeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryErrorStatus(err error) int {
	var engErr *engine.EngineError
	if errors.As(err, &engErr) && engErr.Class == engine.ErrorClassPermanent {
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

func jsonResponse(status int, body any) Response {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b, _ = json.Marshal(internalServerError)
	}
	return Response{StatusCode: status, Body: string(b)}
}

// ServeHTTP adapts Handle to net/http.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  make(map[string]string),
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[key] = values[0]
		}
	}

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeResponse(w, jsonResponse(http.StatusBadRequest, "failed to read request body"))
			return
		}
		req.Body = string(body)
	}

	resp := h.Handle(r.Context(), req)
	if resp.StatusCode == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", "GET, POST")
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
