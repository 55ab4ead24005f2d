package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"

	"github.com/flyq/jolt-verifier-canister/daemon/service"
)

// ErrorBody is the JSON error model of every non-2xx response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// grpcCode maps a service error kind onto the gRPC code space. HTTP status
// follows from the code.
func grpcCode(k service.Kind) codes.Code {
	switch k {
	case service.KindMissingChunk:
		return codes.FailedPrecondition
	case service.KindDeserialization:
		return codes.InvalidArgument
	case service.KindNotFound:
		return codes.NotFound
	case service.KindNotAuthorized:
		return codes.PermissionDenied
	case service.KindChunkTooLarge:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// HTTPStatus returns the HTTP status a service error is served with. An
// oversized chunk is 413 so clients do not retry it like a rate limit.
func HTTPStatus(err error) int {
	kind := service.KindOf(err)
	if kind == service.KindChunkTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return runtime.HTTPStatusFromCode(grpcCode(kind))
}

func errorDetails(e *service.Error) map[string]any {
	switch e.Kind {
	case service.KindMissingChunk:
		return map[string]any{"index": e.Index}
	case service.KindNotFound:
		return map[string]any{"object": e.Object, "key": e.Key}
	case service.KindChunkTooLarge:
		return map[string]any{"index": e.Index, "size": e.Size, "limit": e.Limit}
	case service.KindDeserialization:
		return map[string]any{"reason": e.Reason}
	default:
		return nil
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var e *service.Error
	if !errors.As(err, &e) {
		writeJSONError(w, http.StatusInternalServerError, service.KindInternal.String(), err.Error(), nil)
		return
	}
	msg := e.Error()
	if e.Kind == service.KindInternal {
		// Internal causes stay in the logs.
		msg = "internal error"
	}
	writeJSONError(w, HTTPStatus(e), e.Kind.String(), msg, errorDetails(e))
}

func writeCodeError(w http.ResponseWriter, c codes.Code, msg string) {
	writeJSONError(w, runtime.HTTPStatusFromCode(c), codeToString(c), msg, nil)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	writeJSON(w, status, ErrorBody{Code: code, Message: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func codeToString(c codes.Code) string {
	switch c {
	case codes.InvalidArgument:
		return "INVALID_ARGUMENT"
	case codes.NotFound:
		return "NOT_FOUND"
	case codes.FailedPrecondition:
		return "FAILED_PRECONDITION"
	case codes.PermissionDenied:
		return "PERMISSION_DENIED"
	case codes.ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case codes.DataLoss:
		return "DATA_LOSS"
	case codes.Unimplemented:
		return "UNIMPLEMENTED"
	case codes.Unavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
