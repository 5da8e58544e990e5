package server

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/query"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// maxCommandBody bounds POSTed command payloads.
const maxCommandBody = 64 << 10

// gateway serves the JSON query and command API on a grpc-gateway mux.
type gateway struct {
	qs      *query.QueryService
	engine  ingestion.Applier
	metrics *observability.Metrics
	logger  zerolog.Logger
}

type route struct {
	method  string
	pattern string
	name    string
	handle  func(r *http.Request, params map[string]string) (any, error)
}

// NewGateway registers every JSON route and returns the mux.
func NewGateway(deps Deps) (*runtime.ServeMux, error) {
	g := &gateway{qs: deps.Query, engine: deps.Engine, metrics: deps.Metrics, logger: deps.Logger}
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodGet, "/v1/pool", "pool", g.getPool},
		{http.MethodGet, "/v1/positions/{owner}", "position", g.getPosition},
		{http.MethodGet, "/v1/claims", "claims", g.listClaims},
		{http.MethodGet, "/v1/claims/{id}", "claim", g.getClaim},
		{http.MethodGet, "/v1/stats/claims", "claim_stats", g.getClaimStats},
		{http.MethodGet, "/v1/snapshots", "snapshots", g.listSnapshots},
		{http.MethodGet, "/v1/policies/{id}", "policy", g.getPolicy},
		{http.MethodGet, "/v1/journals", "journals", g.listJournals},
		{http.MethodGet, "/v1/admin/integrity", "integrity", g.verifyIntegrity},
		{http.MethodPost, "/v1/commands/{op}", "command", g.submitCommand},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, g.wrap(rt)); err != nil {
			return nil, eris.Wrapf(err, "register %s %s", rt.method, rt.pattern)
		}
	}
	return mux, nil
}

// wrap adapts a route handler: JSON encoding, error mapping and metrics.
func (g *gateway) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := rt.handle(r, params)

		code := http.StatusOK
		var body any = resp
		if err != nil {
			code = StatusFor(err)
			body = errorBody{Error: errs.Code(err), Message: err.Error()}
			if code == http.StatusInternalServerError {
				g.logger.Error().Err(err).Str("route", rt.name).Msg("query failed")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)

		if g.metrics != nil {
			g.metrics.QueryRequests.WithLabelValues(rt.name, strconv.Itoa(code)).Inc()
			g.metrics.QueryDuration.WithLabelValues(rt.name).Observe(time.Since(start).Seconds())
		}
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindPrecondition:
		return http.StatusConflict
	case errs.KindArithmetic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- Queries ---

func (g *gateway) getPool(r *http.Request, _ map[string]string) (any, error) {
	return g.qs.GetPool(r.Context())
}

func (g *gateway) getPosition(r *http.Request, params map[string]string) (any, error) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		return nil, eris.Wrap(errs.ErrInvalidCommand, "owner is not a uuid")
	}
	return g.qs.GetPosition(r.Context(), owner)
}

func (g *gateway) listClaims(r *http.Request, _ map[string]string) (any, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	var status *claims.Status
	if s := r.URL.Query().Get("status"); s != "" {
		var st claims.Status
		if err := st.UnmarshalText([]byte(s)); err != nil {
			return nil, eris.Wrap(errs.ErrInvalidClaimStatus, s)
		}
		status = &st
	}
	return g.qs.ListClaims(r.Context(), status, limit)
}

func (g *gateway) getClaim(r *http.Request, params map[string]string) (any, error) {
	id, err := uintPathParam(params, "id")
	if err != nil {
		return nil, err
	}
	return g.qs.GetClaim(r.Context(), id)
}

func (g *gateway) getClaimStats(r *http.Request, _ map[string]string) (any, error) {
	return g.qs.GetClaimStats(r.Context())
}

func (g *gateway) listSnapshots(r *http.Request, _ map[string]string) (any, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	var after uint64
	if s := r.URL.Query().Get("after"); s != "" {
		if after, err = strconv.ParseUint(s, 10, 64); err != nil {
			return nil, eris.Wrap(errs.ErrInvalidCommand, "after must be an epoch number")
		}
	}
	return g.qs.ListSnapshots(r.Context(), after, limit)
}

func (g *gateway) getPolicy(r *http.Request, params map[string]string) (any, error) {
	id, err := uintPathParam(params, "id")
	if err != nil {
		return nil, err
	}
	return g.qs.GetPolicy(r.Context(), id)
}

func (g *gateway) listJournals(r *http.Request, _ map[string]string) (any, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	var before *int64
	if s := r.URL.Query().Get("before"); s != "" {
		seq, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, eris.Wrap(errs.ErrInvalidCommand, "before must be a sequence number")
		}
		before = &seq
	}
	return g.qs.GetJournalHistory(r.Context(), r.URL.Query().Get("account"), limit, before)
}

func (g *gateway) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return g.qs.VerifyIntegrity(r.Context())
}

// --- Commands ---

// submitCommand decodes a command of type {op} from the body and applies it
// synchronously. The response is the engine receipt; a replayed request ID
// comes back with duplicate set and no envelope.
func (g *gateway) submitCommand(r *http.Request, params map[string]string) (any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}
	cmd, err := ingestion.ParseCommand(params["op"], data)
	if err != nil {
		return nil, err
	}
	return g.engine.Apply(cmd)
}

// --- helpers ---

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, eris.Wrapf(errs.ErrInvalidCommand, "%s must be a non-negative integer", name)
	}
	return v, nil
}

func uintPathParam(params map[string]string, name string) (uint64, error) {
	v, err := strconv.ParseUint(params[name], 10, 64)
	if err != nil {
		return 0, eris.Wrapf(errs.ErrInvalidCommand, "%s must be a number", name)
	}
	return v, nil
}
