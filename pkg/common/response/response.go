package response

import (
	"encoding/json"
	"net/http"

	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/logger"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Current   string `json:"current,omitempty"`
	Attempted string `json:"attempted,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes err as an error envelope, mapping workflow error kinds to
// status codes. Untyped errors are logged and reported as internal.
func Error(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := APIError{Code: "internal_error", Message: "internal server error"}
	if appErr, ok := apperr.As(err); ok {
		body = APIError{
			Code:      string(appErr.Kind),
			Message:   appErr.Error(),
			Current:   appErr.Current,
			Attempted: appErr.Attempted,
		}
		if appErr.Kind == apperr.KindGenerationFailure {
			logger.Log.WithError(err).Error("Report generation failed")
			body.Message = appErr.Message
		}
	} else {
		logger.Log.WithError(err).Error("Unhandled request error")
	}
	JSON(w, status, ErrorEnvelope{Error: body})
}

func Message(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorEnvelope{Error: APIError{Code: code, Message: message}})
}
