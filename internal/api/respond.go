package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Error kinds beyond the dispatcher refusals.
const (
	KindDataIntegrity = "DATA_INTEGRITY"
	KindInvalid       = "INVALID"
	KindNotFound      = "NOT_FOUND"
	KindInternal      = "INTERNAL"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError maps err onto a status code and a {kind, message} body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ref, ok := dispatch.AsRefusal(err); ok {
		code := http.StatusConflict
		switch ref.Kind {
		case dispatch.KindDisabled:
			code = http.StatusForbidden
		case dispatch.KindNoWork:
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, errorBody{Kind: string(ref.Kind), Message: ref.Message})
		return
	}

	var integrity *store.DataIntegrityError
	switch {
	case errors.As(err, &integrity):
		zap.L().Error("api: data integrity violation",
			zap.String("path", r.URL.Path),
			zap.String("gate", integrity.Gate),
			zap.Int("count", integrity.Count),
			zap.Int("rows", integrity.Rows),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: KindDataIntegrity, Message: integrity.Error()})
	case errors.Is(err, dispatch.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: KindInvalid, Message: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Kind: KindNotFound, Message: err.Error()})
	case errors.Is(err, model.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, errorBody{Kind: string(dispatch.KindConflict), Message: err.Error()})
	default:
		zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: KindInternal, Message: err.Error()})
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrap(dispatch.ErrInvalid, "body: "+err.Error())
	}
	return nil
}
