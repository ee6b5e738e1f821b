package httpapi

import (
	"errors"
	"net/http"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/rs/zerolog/log"
)

// errorResp is the body of every non-2xx response
type errorResp struct {
	Error          string       `json:"error"`
	Kind           catalog.Kind `json:"kind,omitempty"`
	CorrelationID  string       `json:"correlationId,omitempty"`
	CurrentVersion int          `json:"currentVersion,omitempty"`
}

// writeError writes a plain error response with the given status
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResp{
		Error:         msg,
		Kind:          catalog.KindFromStatus(code),
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// writeDomainError maps a catalog error to its status code.
// Unexpected errors are logged and their detail is not echoed to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := catalog.KindOf(err)
	resp := errorResp{
		Error:         err.Error(),
		Kind:          kind,
		CorrelationID: GetCorrelationID(r.Context()),
	}

	var ce *catalog.Error
	if errors.As(err, &ce) {
		resp.Error = ce.Message
		resp.CurrentVersion = ce.CurrentVersion
	}

	if kind == catalog.KindUnexpected {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "internal server error"
	}

	writeJSON(w, kind.HTTPStatus(), resp)
}
