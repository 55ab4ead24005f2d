package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/flyq/jolt-verifier-canister/daemon/manager"
	"github.com/flyq/jolt-verifier-canister/daemon/service"
	"github.com/flyq/jolt-verifier-canister/internal/observability"
)

// HTTP contract types

type (
	ProofIDResponse struct {
		ProgramID uint32 `json:"program_id"`
		ProofID   uint32 `json:"proof_id"`
	}

	VerifyResponse struct {
		ProgramID uint32 `json:"program_id"`
		ProofID   uint32 `json:"proof_id"`
		Valid     bool   `json:"valid"`
	}

	ProofCountResponse struct {
		ProgramID  uint32 `json:"program_id"`
		ProofCount uint32 `json:"proof_count"`
	}

	OwnerResponse struct {
		Owner string `json:"owner"`
	}

	SetOwnerRequest struct {
		Owner string `json:"owner"`
	}

	ListProgramsResponse struct {
		Programs []service.ProgramSummary `json:"programs"`
	}

	HistoryResponse struct {
		Records []manager.FinalizeRecord `json:"records"`
	}
)

// chunkBodySlack is the body allowance above max_chunk_size so that an
// oversized chunk reaches the service and gets a precise error.
const chunkBodySlack = 1

// Options configures an API.
type Options struct {
	MaxChunkSize      int
	RequestsPerSecond float64
	Burst             int
	Logger            *observability.Logger
	Metrics           *observability.Metrics
}

// API wires the verifier service to HTTP handlers
type API struct {
	svc      *service.VerifierService
	logger   *observability.Logger
	metrics  *observability.Metrics
	limiter  *clientLimiter
	maxChunk int
}

func NewAPI(svc *service.VerifierService, opts Options) *API {
	a := &API{
		svc:      svc,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		maxChunk: opts.MaxChunkSize,
	}
	if a.logger == nil {
		a.logger = observability.NewNopLogger()
	}
	if a.metrics == nil {
		a.metrics = observability.NewMetrics(nil)
	}
	if opts.RequestsPerSecond > 0 {
		a.limiter = newClientLimiter(opts.RequestsPerSecond, opts.Burst)
	}
	return a
}

// RegisterHTTP registers REST routes on mux
func (a *API) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/chunks/{index}", a.handlePutChunk)
	mux.HandleFunc("GET /api/v1/chunks/{index}", a.handleGetChunk)
	mux.HandleFunc("GET /api/v1/chunks", a.handlePendingStatus)
	mux.HandleFunc("DELETE /api/v1/chunks", a.handleClearPending)

	mux.HandleFunc("GET /api/v1/programs", a.handleListPrograms)
	mux.HandleFunc("POST /api/v1/programs/{program}/setup", a.handleFinalizeSetup)
	mux.HandleFunc("GET /api/v1/programs/{program}/setup", a.handleSetupInfo)
	mux.HandleFunc("POST /api/v1/programs/{program}/proofs", a.handleFinalizeProof)
	mux.HandleFunc("GET /api/v1/programs/{program}/proofs", a.handleProofCount)
	mux.HandleFunc("GET /api/v1/programs/{program}/proofs/{proof}", a.handleProofInfo)
	mux.HandleFunc("POST /api/v1/programs/{program}/proofs/{proof}/verify", a.handleVerify)

	mux.HandleFunc("GET /api/v1/owner", a.handleGetOwner)
	mux.HandleFunc("PUT /api/v1/owner", a.handleSetOwner)
	mux.HandleFunc("GET /api/v1/history", a.handleHistory)
	mux.Handle("GET /api/v1/events", SSEHandler(a.svc.Events()))
}

// Handler returns the routes wrapped in the request middleware.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterHTTP(mux)
	return a.withMiddleware(mux)
}

func parseUint32(s, name string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return uint32(v), nil
}

func pathUint32(w http.ResponseWriter, r *http.Request, name string) (uint32, bool) {
	v, err := parseUint32(r.PathValue(name), name)
	if err != nil {
		writeCodeError(w, codes.InvalidArgument, err.Error())
		return 0, false
	}
	return v, true
}

func queryUint32(w http.ResponseWriter, r *http.Request, name string) (uint32, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeCodeError(w, codes.InvalidArgument, "missing query parameter "+name)
		return 0, false
	}
	v, err := parseUint32(raw, name)
	if err != nil {
		writeCodeError(w, codes.InvalidArgument, err.Error())
		return 0, false
	}
	return v, true
}

func (a *API) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint32(w, r, "index")
	if !ok {
		return
	}
	body := r.Body
	if a.maxChunk > 0 {
		body = http.MaxBytesReader(w, r.Body, int64(a.maxChunk+chunkBodySlack))
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.metrics.RecordChunkRejected("body_too_large")
			writeJSONError(w, HTTPStatus(service.ErrChunkTooLarge), service.KindChunkTooLarge.String(),
				fmt.Sprintf("chunk %d exceeds limit %d", index, a.maxChunk),
				map[string]any{"index": index, "limit": a.maxChunk})
			return
		}
		writeCodeError(w, codes.InvalidArgument, "failed to read body")
		return
	}
	if err := a.svc.PutChunk(r.Context(), index, payload); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint32(w, r, "index")
	if !ok {
		return
	}
	payload, found := a.svc.GetChunk(index)
	if !found {
		writeCodeError(w, codes.NotFound, fmt.Sprintf("chunk %d not buffered", index))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a *API) handlePendingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.PendingStatus())
}

func (a *API) handleClearPending(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.ClearPending(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := a.svc.ListPrograms()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListProgramsResponse{Programs: programs})
}

func (a *API) handleFinalizeSetup(w http.ResponseWriter, r *http.Request) {
	program, ok := pathUint32(w, r, "program")
	if !ok {
		return
	}
	end, ok := queryUint32(w, r, "end")
	if !ok {
		return
	}
	if err := a.svc.FinalizeSetup(r.Context(), end, program); err != nil {
		writeServiceError(w, err)
		return
	}
	info, err := a.svc.GetSetupInfo(program)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *API) handleSetupInfo(w http.ResponseWriter, r *http.Request) {
	program, ok := pathUint32(w, r, "program")
	if !ok {
		return
	}
	info, err := a.svc.GetSetupInfo(program)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleFinalizeProof(w http.ResponseWriter, r *http.Request) {
	program, ok := pathUint32(w, r, "program")
	if !ok {
		return
	}
	end, ok := queryUint32(w, r, "end")
	if !ok {
		return
	}
	id, err := a.svc.FinalizeProof(r.Context(), end, program)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProofIDResponse{ProgramID: program, ProofID: id})
}

func (a *API) handleProofCount(w http.ResponseWriter, r *http.Request) {
	program, ok := pathUint32(w, r, "program")
	if !ok {
		return
	}
	n, err := a.svc.ProofCount(program)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProofCountResponse{ProgramID: program, ProofCount: n})
}

func (a *API) handleProofInfo(w http.ResponseWriter, r *http.Request) {
	program, ok := pathUint32(w, r, "program")
	if !ok {
		return
	}
	proof, ok := pathUint32(w, r, "proof")
	if !ok {
		return
	}
	info, err := a.svc.GetProofInfo(program, proof)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	program, ok := pathUint32(w, r, "program")
	if !ok {
		return
	}
	proof, ok := pathUint32(w, r, "proof")
	if !ok {
		return
	}
	valid, err := a.svc.Verify(r.Context(), program, proof)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{ProgramID: program, ProofID: proof, Valid: valid})
}

func (a *API) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := a.svc.GetOwner()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OwnerResponse{Owner: owner})
}

func (a *API) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	var req SetOwnerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeCodeError(w, codes.InvalidArgument, "invalid JSON body")
		return
	}
	if req.Owner == "" {
		writeCodeError(w, codes.InvalidArgument, "owner must not be empty")
		return
	}
	if err := a.svc.SetOwner(r.Context(), callerOf(r), req.Owner); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OwnerResponse{Owner: req.Owner})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeCodeError(w, codes.InvalidArgument, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := a.svc.History(limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []manager.FinalizeRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: recs})
}

// SSEHandler streams service events as server-sent events. The optional
// program query parameter restricts the stream to one program.
func SSEHandler(events *service.EventPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter *uint32
		if raw := r.URL.Query().Get("program"); raw != "" {
			p, err := parseUint32(raw, "program")
			if err != nil {
				writeCodeError(w, codes.InvalidArgument, err.Error())
				return
			}
			filter = &p
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := events.Subscribe(filter)
		defer events.Unsubscribe(sub.ID)
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Channel:
				if !ok {
					return
				}
				line, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, line)
				flusher.Flush()
			}
		}
	}
}
