package handler

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ledger-core/internal/errors"
	"ledger-core/internal/service"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

// handleError writes err to the client. Internal failures are logged in full
// and reported with a generic message.
func handleError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if service.IsCanceled(err) {
		logger.Warn("Request cancelled", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, errors.NewAppError(errors.InternalError, "request cancelled"))
		return
	}

	appErr := errors.AsAppError(err)
	if !appErr.IsDomain() {
		logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		writeError(w, errors.ErrInternal)
		return
	}

	// Structured domain errors carry more context than their sentinel.
	var insufficient *errors.InsufficientBalanceError
	var locked *errors.AccountLockedError
	switch {
	case stderrors.As(err, &insufficient):
		appErr = appErr.WithDetails(insufficient.Error())
	case stderrors.As(err, &locked):
		appErr = appErr.WithDetails(locked.Error())
	}
	writeError(w, appErr)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
	}
	return validateStruct(dst)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, errors.NewAppError(errors.InvalidInput, "invalid "+name).WithDetails(err.Error())
	}
	return id, nil
}
