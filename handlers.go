package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kwv/turfwar/territory"
)

// newHTTPServer creates an HTTP server with all endpoints. mqttClient may be nil.
func newHTTPServer(st territory.Store, sessions *territory.SessionManager, mqttClient *territory.MQTTClient) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			MQTTConnected: mqttClient != nil && mqttClient.IsConnected(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /conquests", func(w http.ResponseWriter, r *http.Request) {
		var (
			conquests []territory.Conquest
			err       error
		)
		if owner := r.URL.Query().Get("owner"); owner != "" {
			conquests, err = st.ListByOwner(r.Context(), owner)
		} else {
			conquests, err = st.ListAll(r.Context())
		}
		if err != nil {
			log.Printf("[HTTP] listing conquests: %v", err)
			http.Error(w, "Failed to list conquests", http.StatusInternalServerError)
			return
		}
		if conquests == nil {
			conquests = []territory.Conquest{}
		}
		writeJSON(w, http.StatusOK, conquests)
	})

	mux.HandleFunc("GET /conquests/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, err := st.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	})

	mux.HandleFunc("GET /conquests.geojson", func(w http.ResponseWriter, r *http.Request) {
		conquests, err := st.ListAll(r.Context())
		if err != nil {
			log.Printf("[HTTP] listing conquests: %v", err)
			http.Error(w, "Failed to list conquests", http.StatusInternalServerError)
			return
		}
		var conflicts []territory.TerritoryConflict
		if victim := r.URL.Query().Get("victim"); victim != "" {
			if conflicts, err = st.ListConflictsByVictim(r.Context(), victim); err != nil {
				log.Printf("[HTTP] listing conflicts for %s: %v", victim, err)
			}
		}
		fc := territory.ConquestsToFeatureCollection(conquests, conflicts)
		data, err := fc.MarshalJSON()
		if err != nil {
			log.Printf("[HTTP] encoding GeoJSON: %v", err)
			http.Error(w, "Failed to encode GeoJSON", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	})

	mux.HandleFunc("GET /conflicts", func(w http.ResponseWriter, r *http.Request) {
		victim := r.URL.Query().Get("victim")
		if victim == "" {
			http.Error(w, "victim is required", http.StatusBadRequest)
			return
		}
		conflicts, err := st.ListConflictsByVictim(r.Context(), victim)
		if err != nil {
			log.Printf("[HTTP] listing conflicts for %s: %v", victim, err)
			http.Error(w, "Failed to list conflicts", http.StatusInternalServerError)
			return
		}
		if conflicts == nil {
			conflicts = []territory.TerritoryConflict{}
		}
		writeJSON(w, http.StatusOK, conflicts)
	})

	mux.HandleFunc("POST /conflicts/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		byVictim := r.URL.Query().Get("by") != "system"
		if err := st.MarkConflictRead(r.Context(), r.PathValue("id"), byVictim); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /sessions/{owner}/start", func(w http.ResponseWriter, r *http.Request) {
		mode, ok := territory.ParseCaptureMode(r.URL.Query().Get("mode"))
		if !ok {
			http.Error(w, "mode must be dominio or livre", http.StatusBadRequest)
			return
		}
		snap, err := sessions.Start(r.Context(), r.PathValue("owner"), mode)
		if err != nil {
			writeErrorWith(w, err, snap)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /sessions/{owner}/finalize", func(w http.ResponseWriter, r *http.Request) {
		res, err := sessions.Finalize(r.Context(), r.PathValue("owner"))
		if err != nil {
			writeError(w, err)
			return
		}
		if res.Conflicts == nil {
			res.Conflicts = []territory.TerritoryConflict{}
		}
		writeJSON(w, http.StatusCreated, res)
	})

	mux.HandleFunc("POST /sessions/{owner}/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Stop(r.PathValue("owner")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /sessions/{owner}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := sessions.Snapshot(r.Context(), r.PathValue("owner"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] error encoding response: %v", err)
	}
}

type errorBody struct {
	Error   string              `json:"error"`
	Session *territory.Snapshot `json:"session,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// writeErrorWith includes the session state so clients can show searching/blocked.
func writeErrorWith(w http.ResponseWriter, err error, snap territory.Snapshot) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Session: &snap})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, territory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, territory.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, territory.ErrNoFix):
		return http.StatusServiceUnavailable
	case errors.Is(err, territory.ErrAlreadyRecording),
		errors.Is(err, territory.ErrNotRecording),
		errors.Is(err, territory.ErrNotClosable),
		errors.Is(err, territory.ErrTooShort):
		return http.StatusConflict
	case errors.Is(err, territory.ErrInvalidPolygon):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
