package render

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/omni/vault-custody/logging"
)

func JSON(w http.ResponseWriter, r *http.Request, status int, res interface{}) {
	blob, err := marshal(r, res)
	if err != nil {
		Error(w, r, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(blob); err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).Warn("failed to write response")
	}
}

func marshal(r *http.Request, res interface{}) ([]byte, error) {
	if pretty, _ := strconv.ParseBool(r.URL.Query().Get("pretty")); pretty {
		return json.MarshalIndent(res, "", "  ")
	}
	return json.Marshal(res)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Error writes err as a JSON body. Server side failures are logged as errors,
// client ones only at debug level.
func Error(w http.ResponseWriter, r *http.Request, status int, err error) {
	logger := logging.LoggerFromContext(r.Context()).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		logger.Error("request handling failed")
	} else {
		logger.Debug("request rejected")
	}

	blob, _ := json.Marshal(errorResponse{Error: err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(blob)
}
