package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
	"github.com/mirkobrombin/warp-aqi/v1/upstream"
)

const (
	cacheHeader = "X-Cache"

	msgCityRequired = "City name is required"
	msgFetchFailed  = "Failed to fetch air quality data"
	msgNotFound     = "Endpoint not found"
	msgPanic        = "Something went wrong!"
	msgCleared      = "Cache cleared successfully"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type healthBody struct {
	Status    string `json:"status"`
	CacheSize int    `json:"cacheSize"`
	Timestamp string `json:"timestamp"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: msgNotFound})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:    "OK",
		CacheSize: s.search.Size(),
		Timestamp: s.now().UTC().Format(timestampLayout),
	})
}

func (s *Server) searchCity(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	if unescaped, err := url.PathUnescape(city); err == nil {
		city = unescaped
	}
	res, err := s.search.Search(r.Context(), city)
	if err != nil {
		s.searchError(w, r, err)
		return
	}
	if res.Hit {
		w.Header().Set(cacheHeader, "HIT")
	} else {
		w.Header().Set(cacheHeader, "MISS")
	}
	writeJSON(w, http.StatusOK, res.Report)
}

func (s *Server) searchError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *upstream.NotFoundError
	switch {
	case errors.Is(err, warperrors.ErrInvalidKey):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgCityRequired})
	case errors.As(err, &nf):
		msg := nf.Message
		if msg == "" {
			msg = upstream.DefaultNotFoundMessage
		}
		writeJSON(w, http.StatusNotFound, errorBody{Error: msg})
	case errors.Is(err, warperrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: upstream.DefaultNotFoundMessage})
	case errors.Is(err, warperrors.ErrCircuitOpen):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: msgFetchFailed, Details: err.Error()})
	default:
		s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("search failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgFetchFailed, Details: err.Error()})
	}
}

func (s *Server) cacheInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.search.Info())
}

func (s *Server) cacheClear(w http.ResponseWriter, _ *http.Request) {
	s.search.Clear()
	writeJSON(w, http.StatusOK, messageBody{Message: msgCleared})
}
