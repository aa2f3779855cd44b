// Package middleware intercepts unhandled failures at the HTTP
// boundary and writes them as problem documents in whichever wire
// format the rollout manager chooses for the calling client. It is a
// thin adapter: classification, document construction and format
// negotiation all happen in the problem and compat packages.
package middleware

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apicompat/problem"
	"github.com/apicompat/problem/compat"
	"github.com/apicompat/problem/negotiation"
)

// Headers consulted when classifying the calling client.
const (
	HeaderClientID   = "X-Client-ID"
	HeaderAPIVersion = "X-API-Version"
)

// SupportURL is attached to internal-error documents when the
// interceptor is configured to expose internal errors.
var SupportURL = "https://api.example.com/errors/contact-support"

// Handler builds a custom problem document for one fault category,
// overriding the default construction.
type Handler func(err error, errorID string) problem.Wirer

// Stats are the interceptor's performance counters.
type Stats struct {
	ErrorCount    int
	TotalDuration time.Duration
	AvgPerError   time.Duration
}

// Interceptor converts errors and panics into problem responses.
type Interceptor struct {
	manager        *compat.Manager
	debug          bool
	exposeInternal bool
	log            *zap.Logger

	mu       sync.Mutex
	handlers map[problem.Fault]Handler
	count    int
	total    time.Duration
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithDebug exposes raw error text in response details. Never enable
// outside development.
func WithDebug(debug bool) Option {
	return func(i *Interceptor) { i.debug = debug }
}

// WithExposeInternalErrors attaches the support URL to internal-error
// documents.
func WithExposeInternalErrors(expose bool) Option {
	return func(i *Interceptor) { i.exposeInternal = expose }
}

// WithLogger sets the interceptor's logger.
func WithLogger(log *zap.Logger) Option {
	return func(i *Interceptor) { i.log = log }
}

// New builds an interceptor around a rollout manager.
func New(manager *compat.Manager, opts ...Option) *Interceptor {
	i := &Interceptor{
		manager:  manager,
		log:      zap.NewNop(),
		handlers: make(map[problem.Fault]Handler),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RegisterHandler installs a custom handler for one fault category.
func (i *Interceptor) RegisterHandler(f problem.Fault, h Handler) {
	i.mu.Lock()
	i.handlers[f] = h
	i.mu.Unlock()
}

// Middleware wraps a handler so panics become problem responses.
// Errors that are not panics reach the interceptor through WriteError.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				err, ok := rvr.(error)
				if !ok {
					err = problem.Faultf(problem.FaultInternal, "panic: %v", rvr)
				}
				i.WriteError(w, r, err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// WriteError classifies err, builds the matching problem document and
// writes it in the format chosen for this client.
func (i *Interceptor) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	start := time.Now()
	rendered := i.RenderError(inputFromRequest(r), err)
	i.write(w, rendered)
	i.record(time.Since(start))
}

// WriteProblem writes an already-built problem document, negotiating
// format and codec for this client.
func (i *Interceptor) WriteProblem(w http.ResponseWriter, r *http.Request, p problem.Wirer) {
	i.write(w, i.RenderProblem(inputFromRequest(r), p))
}

// RenderInput carries the request attributes the rollout decision
// needs. Adapters for non-net/http frameworks fill it themselves.
type RenderInput struct {
	UserAgent  string
	Accept     string
	ClientID   string
	APIVersion string
	Instance   string
}

func inputFromRequest(r *http.Request) RenderInput {
	return RenderInput{
		UserAgent:  r.UserAgent(),
		Accept:     r.Header.Get("Accept"),
		ClientID:   r.Header.Get(HeaderClientID),
		APIVersion: r.Header.Get(HeaderAPIVersion),
		Instance:   r.URL.Path,
	}
}

// Rendered is a serialized response ready for any transport.
type Rendered struct {
	Status      int
	ContentType string
	Deprecation string
	Body        []byte
}

// RenderError classifies err into a fault category and renders the
// resulting document. Construction cannot fail for the inputs this
// method produces, so it always returns a writable response.
func (i *Interceptor) RenderError(in RenderInput, err error) *Rendered {
	fault, tagged := problem.AsFault(err)
	errorID := uuid.NewString()

	i.logError(in, err, fault, tagged, errorID)

	i.mu.Lock()
	custom := i.handlers[fault]
	i.mu.Unlock()

	var doc problem.Wirer
	if custom != nil {
		doc = custom(err, errorID)
	} else {
		doc = i.buildProblem(fault, err, errorID)
	}
	return i.RenderProblem(in, doc)
}

func (i *Interceptor) buildProblem(fault problem.Fault, err error, errorID string) problem.Wirer {
	detail := fault.SafeDetail()
	if i.debug {
		detail = truncate(err.Error(), i.manager.Config().MaxDetailLength)
	}

	if fault == problem.FaultInternal {
		ise, buildErr := problem.NewInternalServerErrorProblem(detail)
		if buildErr == nil {
			ise.ErrorID = errorID
			if i.exposeInternal {
				ise.SupportURL = SupportURL
			}
			return ise
		}
		// Unreachable for non-empty detail; fall through to the base
		// document so the client still gets a response.
	}

	doc, buildErr := problem.NewFaultProblem(fault, detail, problem.WithInstance(errorID))
	if buildErr != nil {
		doc, _ = problem.NewFaultProblem(problem.FaultInternal, "")
	}
	return doc
}

// RenderProblem serializes a document in the wire format and codec
// negotiated for this client.
func (i *Interceptor) RenderProblem(in RenderInput, p problem.Wirer) *Rendered {
	tier := i.manager.ClientTier(in.UserAgent, in.Accept, in.ClientID, in.APIVersion)
	format := i.manager.ChooseFormat(tier, in.Accept, "")
	i.manager.LogDecision(in.ClientID, tier, format, "interceptor")

	wire, err := p.Wire()
	if err != nil {
		// Serialization contract violation: a model bug. Fall back to a
		// bare document rather than an empty body.
		i.log.Error("problem serialization failed", zap.Error(err))
		wire = problem.Wire{
			"type":   problem.TypeInternalServerError,
			"title":  "Internal Server Error",
			"status": http.StatusInternalServerError,
			"detail": "An internal server error occurred",
		}
	}

	payload := i.manager.Convert(wire, format, in.Instance)
	contentType := i.negotiateContentType(in.Accept, format)

	var body bytes.Buffer
	codec, ok := problem.DefaultCodecs[contentType]
	if !ok {
		codec = problem.DefaultJSONCodec
	}
	if err := codec.Marshal(&body, payload); err != nil {
		i.log.Error("problem encoding failed", zap.Error(err))
	}

	rendered := &Rendered{
		Status:      p.GetStatus(),
		ContentType: contentType,
		Body:        body.Bytes(),
	}
	if format != problem.FormatRFC7807 && i.manager.IsDeprecated() {
		rendered.Deprecation = i.manager.DeprecationHeader()
	}
	return rendered
}

// negotiateContentType picks the codec media type. The wire format
// fixes the document shape; for RFC 7807 the client may still ask for
// a CBOR encoding of it.
func (i *Interceptor) negotiateContentType(accept string, format problem.WireFormat) string {
	configured := i.manager.ContentType(format)
	if format != problem.FormatRFC7807 {
		return configured
	}

	offers := []string{configured}
	if _, ok := problem.DefaultCodecs["application/problem+cbor"]; ok {
		offers = append(offers, "application/problem+cbor", "application/cbor")
	}
	return negotiation.Select(accept, offers)
}

func (i *Interceptor) write(w http.ResponseWriter, rendered *Rendered) {
	w.Header().Set("Content-Type", rendered.ContentType)
	if rendered.Deprecation != "" {
		w.Header().Set("Deprecation", rendered.Deprecation)
	}
	w.WriteHeader(rendered.Status)
	_, _ = w.Write(rendered.Body)
}

func (i *Interceptor) logError(in RenderInput, err error, fault problem.Fault, tagged bool, errorID string) {
	fields := []zap.Field{
		zap.String("error_id", errorID),
		zap.String("fault", fault.String()),
		zap.String("instance", in.Instance),
	}
	if fault == problem.FaultInternal && !tagged {
		i.log.Error("unhandled error", append(fields, zap.Error(err))...)
		return
	}
	i.log.Warn("request fault", append(fields, zap.Error(err))...)
}

func (i *Interceptor) record(d time.Duration) {
	i.mu.Lock()
	i.count++
	i.total += d
	i.mu.Unlock()
}

// Stats returns the interceptor's performance counters.
func (i *Interceptor) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := Stats{ErrorCount: i.count, TotalDuration: i.total}
	if i.count > 0 {
		s.AvgPerError = i.total / time.Duration(i.count)
	}
	return s
}

// ResetStats zeroes the performance counters.
func (i *Interceptor) ResetStats() {
	i.mu.Lock()
	i.count = 0
	i.total = 0
	i.mu.Unlock()
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
