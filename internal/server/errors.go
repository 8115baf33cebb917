package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"p2pescrow/internal/escrow"
)

const codeBadRequest = "BadRequest"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// badRequest marks input that never reached the engine.
type badRequest struct {
	msg string
}

func (e badRequest) Error() string { return e.msg }

func statusFor(code string) int {
	switch code {
	case "NotFound":
		return http.StatusNotFound
	case "Unauthorized":
		return http.StatusForbidden
	case "InvalidState", "AlreadySettled":
		return http.StatusConflict
	case "SelfTrade", "InvalidAmount", "InvalidParty":
		return http.StatusUnprocessableEntity
	case codeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorCode maps err to the code reported to clients.
func errorCode(err error) string {
	var br badRequest
	if errors.As(err, &br) {
		return codeBadRequest
	}
	return escrow.Code(err)
}

func errorBody(err error) (int, errorResponse) {
	code := errorCode(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return status, errorResponse{Error: code, Message: msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, body)
}
