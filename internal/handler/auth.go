package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vaultpass/identity-go/internal/middleware"
	"github.com/vaultpass/identity-go/internal/model"
	"github.com/vaultpass/identity-go/internal/service"
)

const maxBodyBytes = 1 << 20 // 1MB

// AuthHandler handles HTTP requests for authentication.
type AuthHandler struct {
	service   *service.AuthService
	validator *Validator
	logger    *zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *service.AuthService, validator *Validator, logger *zerolog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, validator: validator, logger: logger}
}

// HandleRegister handles POST /api/register requests.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailExists):
			writeJSON(w, http.StatusConflict, FormatError(http.StatusConflict, 0, map[string]string{
				"email": "This email already exists",
			}))
		case errors.Is(err, service.ErrUsernameExists):
			writeJSON(w, http.StatusConflict, FormatError(http.StatusConflict, 0, map[string]string{
				"username": "This username already exists",
			}))
		default:
			h.internalError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, FormatSuccess(resp))
}

// HandleLogin handles POST /api/login requests.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIdentifierNotFound):
			writeJSON(w, http.StatusNotFound, FormatError(http.StatusNotFound, 0, map[string]string{
				"email": "This email or username doesn't exist",
			}))
		case errors.Is(err, service.ErrBadCredentials):
			writeJSON(w, http.StatusUnprocessableEntity, FormatError(http.StatusUnprocessableEntity, 0, map[string]string{
				"password": "Wrong password entered",
			}))
		default:
			h.internalError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, FormatSuccess(resp))
}

// HandleMe handles GET /api/me requests.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, FormatError(http.StatusUnauthorized, 0, nil))
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, FormatError(http.StatusNotFound, 0, nil))
			return
		}
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FormatSuccess(map[string]any{"user": user}))
}

// decode reads and validates the JSON body into dst. It writes the error
// response itself and reports whether the handler should continue.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	// An empty body is validated as an empty object.
	var typeErr *json.UnmarshalTypeError
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, FormatError(http.StatusRequestEntityTooLarge, 0, "request body too large"))
			return false
		case errors.As(err, &typeErr) && typeErr.Field != "":
			// The rest of the body was still decoded; report it alongside.
		default:
			writeJSON(w, http.StatusBadRequest, FormatError(http.StatusBadRequest, 0, "invalid request body"))
			return false
		}
	}

	fields := h.validator.Struct(dst)
	if typeErr != nil {
		if fields == nil {
			fields = make(map[string][]string, 1)
		}
		fields[typeErr.Field] = []string{typeErr.Field + " must be a string"}
	}
	if fields != nil {
		writeJSON(w, http.StatusUnprocessableEntity, FormatError(http.StatusUnprocessableEntity, 0, fields))
		return false
	}

	return true
}

// internalError logs the failure for operators and answers with the generic
// message and the call-site code only.
func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	op, code := "unknown", 0
	var opErr *service.OpError
	if errors.As(err, &opErr) {
		op, code = opErr.Op, opErr.Code
	}

	h.logger.Error().
		Err(err).
		Str("op", op).
		Int("code", code).
		Str("request_id", chimw.GetReqID(r.Context())).
		Msg("request failed")

	writeJSON(w, http.StatusInternalServerError, FormatError(http.StatusInternalServerError, code, nil))
}
