package api

import (
	"errors"

	"token-ledger/internal/ledger"
	"token-ledger/internal/node"
	"token-ledger/internal/storage"
)

// JSON-RPC 2.0 error codes. Codes above -32100 are ledger specific.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeUnauthenticated = -32001
	CodeAuthorization   = -32010
	CodeValidation      = -32011
	CodeState           = -32012
	CodeResource        = -32013
	CodePersistence     = -32020
	CodeUnavailable     = -32021
)

var errInvalidParams = errors.New("invalid params")

var kindCodes = map[ledger.Kind]int{
	ledger.KindAuthorization: CodeAuthorization,
	ledger.KindValidation:    CodeValidation,
	ledger.KindState:         CodeState,
	ledger.KindResource:      CodeResource,
}

// toRPCError maps a handler error to its wire form. Unknown errors are
// reported as internal without detail.
func toRPCError(err error) *Error {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, errInvalidParams), errors.Is(err, storage.ErrInvalidInput):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case isAuthError(err):
		return &Error{Code: CodeUnauthenticated, Message: err.Error()}
	case errors.Is(err, node.ErrPersistence):
		return &Error{Code: CodePersistence, Message: node.ErrPersistence.Error()}
	case errors.Is(err, node.ErrNoArchive):
		return &Error{Code: CodeUnavailable, Message: err.Error()}
	}

	kind := ledger.KindOf(err)
	if code, ok := kindCodes[kind]; ok {
		return &Error{Code: code, Message: err.Error(), Data: &ErrorData{Kind: string(kind)}}
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}

func isAuthError(err error) bool {
	for _, target := range []error{
		ErrMissingCredentials, ErrCallerOffCurve, ErrBadSignature, ErrStaleRequest, ErrReplayedRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// outcome is the metrics label for a request result.
func outcome(e *Error) string {
	if e == nil {
		return "ok"
	}
	switch e.Code {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
		return "invalid"
	case CodeUnauthenticated:
		return "unauthenticated"
	case CodeAuthorization:
		return "unauthorized"
	case CodeValidation, CodeState, CodeResource:
		return "rejected"
	default:
		return "error"
	}
}
