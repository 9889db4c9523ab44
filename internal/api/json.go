package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/raido/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// errorBodyFrom builds an error payload from err, carrying its error kind
// when one is attached.
func errorBodyFrom(err error) errResponse {
	return errResponse{Error: err.Error(), Kind: string(apperr.KindOf(err))}
}
