package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"keysync/pkg/apperr"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return invalidInput(errors.New("request body required"))
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return invalidInput(err)
	}
	return nil
}

func invalidInput(cause error) error {
	return apperr.Newf(apperr.KindValidation, cause, apperr.MsgInvalidInput, apperr.InvalidInput)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError renders err as {status, message, details}. Unknown errors are
// reported as internal without leaking their text.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	body := apperr.BodyOf(err)

	logger := zerolog.Ctx(r.Context())
	evt := logger.Warn()
	if body.Status >= http.StatusInternalServerError {
		evt = logger.Error()
	}
	evt.Err(err).
		Str("path", r.URL.Path).
		Str("kind", string(apperr.KindOf(err))).
		Int("status", body.Status).
		Msg(body.Message)

	respondJSON(w, body.Status, body)
}
