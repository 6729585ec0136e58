package httpx

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
)

var errBadJSON = apperr.New(apperr.KindValidation, "invalid json")

var statusByKind = map[apperr.Kind]int{
	apperr.KindInsufficientStock:    http.StatusConflict,
	apperr.KindInvalidTransition:    http.StatusConflict,
	apperr.KindInvalidSignature:     http.StatusUnauthorized,
	apperr.KindProcessorUnavailable: http.StatusServiceUnavailable,
	apperr.KindValidation:           http.StatusBadRequest,
	apperr.KindNotFound:             http.StatusNotFound,
	apperr.KindConflict:             http.StatusConflict,
	apperr.KindInternal:             http.StatusInternalServerError,
}

type errorBody struct {
	Kind    apperr.Kind  `json:"kind"`
	Message string       `json:"message"`
	Issues  []cart.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {kind, message[, issues]}. Causes are logged,
// never sent.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	kind := apperr.KindOf(err)
	code, ok := statusByKind[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	body := errorBody{Kind: kind, Message: apperr.MessageOf(err)}
	var ce *cart.CheckoutError
	if errors.As(err, &ce) {
		body.Issues = ce.Issues
	}

	switch {
	case code >= http.StatusInternalServerError:
		log.WithError(err).Error("request failed")
	case kind == apperr.KindInvalidTransition:
		log.WithError(err).Warn("rejected state change")
	}
	writeJSON(w, code, body)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.WithStack(errBadJSON)
	}
	return nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.WithStack(errBadJSON)
}
