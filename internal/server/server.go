package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/docgraph/internal/eventbus"
	events "github.com/hanpama/docgraph/internal/events"
	executor "github.com/hanpama/docgraph/internal/executor"
	language "github.com/hanpama/docgraph/internal/language"
	reqid "github.com/hanpama/docgraph/internal/reqid"
	response "github.com/hanpama/docgraph/internal/response"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// statusClientClosed is reported in events when the client went away.
const statusClientClosed = 499

// Handler is an http.Handler that serves a GraphQL endpoint.
// It parses requests, runs the executor, and writes the response envelope.
type Handler struct {
	exec *executor.Executor
	opt  Options
	log  *zap.Logger
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// Logger receives internal faults. Nil discards them.
	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

func WithGraphiQL(enable bool) Option { return func(o *Options) { o.GraphiQL = enable } }

// New creates a GraphQL HTTP handler around the executor.
func New(exec *executor.Executor, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second, MaxBodyBytes: 1 << 20}
	for _, f := range opts {
		f(&op)
	}
	log := op.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{exec: exec, opt: op, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	var rid string
	if id := r.Header.Get(RequestIDHeader); validRequestID(id) {
		rid, ctx = id, reqid.WithID(ctx, id)
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	w.Header().Set(RequestIDHeader, rid)
	r = r.WithContext(ctx)

	status, executed := http.StatusOK, 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{
			Request:    r,
			Status:     status,
			Operations: executed,
			Duration:   time.Since(start),
		})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		h.write(w, status, response.Error("method not allowed"))
		return
	}

	// Serve GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	req, batch, perr := parseRequest(w, r, h.opt.MaxBodyBytes)
	if perr != nil {
		status = perr.status
		h.write(w, status, response.Error(perr.message))
		return
	}

	isBatch := batch != nil
	if !isBatch {
		batch = []GraphQLRequest{req}
	}
	results := make([]*executor.ExecutionResult, len(batch))
	for i, one := range batch {
		res, err := h.executeOne(ctx, one, r.Method == http.MethodGet)
		executed++
		var ie *executor.InternalError
		switch {
		case errors.Is(err, errMutationOverGET):
			status = http.StatusMethodNotAllowed
			w.Header().Set("Allow", "POST, OPTIONS")
			h.write(w, status, response.Error(err.Error()))
			return
		case errors.Is(err, context.Canceled):
			// the client is gone; there is nobody to answer
			status = statusClientClosed
			h.log.Debug("request canceled", zap.String("request_id", rid))
			return
		case errors.As(err, &ie):
			status = http.StatusInternalServerError
			h.log.Error("execution fault",
				zap.String("request_id", rid),
				zap.Any("panic", ie.Value),
				zap.ByteString("stack", ie.Stack),
			)
			h.write(w, status, response.Internal())
			return
		case err != nil:
			status = http.StatusInternalServerError
			h.log.Error("execution failed", zap.String("request_id", rid), zap.Error(err))
			h.write(w, status, response.Internal())
			return
		}
		results[i] = res
	}

	if isBatch {
		h.write(w, status, results)
		return
	}
	h.write(w, status, results[0])
}

var errMutationOverGET = errors.New("mutations must use POST")

func (h *Handler) executeOne(ctx context.Context, req GraphQLRequest, viaGET bool) (*executor.ExecutionResult, error) {
	start := time.Now()
	p, err := h.exec.Prepare(req.Query, req.OperationName)
	if err != nil {
		res := &executor.ExecutionResult{Errors: executor.RequestErrors(err)}
		h.finish(ctx, req, "", res, nil, start)
		return res, nil
	}
	opType := string(p.Operation.Operation)
	if viaGET && p.Operation.Operation != language.Query {
		return nil, errMutationOverGET
	}

	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	res, err := h.exec.ExecutePrepared(ctx, p, req.Variables, nil)
	h.finish(ctx, req, opType, res, err, start)
	return res, err
}

func (h *Handler) finish(ctx context.Context, req GraphQLRequest, opType string, res *executor.ExecutionResult, err error, start time.Time) {
	var errs []error
	if res != nil {
		errs = make([]error, len(res.Errors))
		for i := range res.Errors {
			errs[i] = res.Errors[i]
		}
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Err:           err,
		Duration:      time.Since(start),
	})
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	if err := response.Write(w, status, v, h.opt.Pretty); err != nil {
		h.log.Error("encode response", zap.Error(err))
		// nothing was written when encoding failed
		_ = response.Write(w, http.StatusInternalServerError, response.Internal(), h.opt.Pretty)
	}
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

type requestError struct {
	status  int
	message string
}

func badRequest(msg string) *requestError {
	return &requestError{status: http.StatusBadRequest, message: msg}
}

// parseRequest reads a single request or a batch. Exactly one of the
// request and the batch is set on success.
func parseRequest(w http.ResponseWriter, r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *requestError) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, badRequest("missing 'query'")
		}
		var vars map[string]any
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, badRequest("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return GraphQLRequest{}, nil, badRequest("unsupported Content-Type")
		}
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = http.MaxBytesReader(w, r.Body, maxBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return GraphQLRequest{}, nil, &requestError{status: http.StatusRequestEntityTooLarge, message: "body too large"}
		}
		return GraphQLRequest{}, nil, badRequest("failed to read body")
	}

	// Try array (batch)
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, badRequest("invalid JSON")
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, badRequest("empty batch")
		}
		for _, req := range arr {
			if req.Query == "" {
				return GraphQLRequest{}, nil, badRequest("missing 'query'")
			}
		}
		return GraphQLRequest{}, arr, nil
	}
	// Single
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, badRequest("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, badRequest("missing 'query'")
	}
	return req, nil, nil
}

// validRequestID accepts client ids that are safe to echo and log.
func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}
