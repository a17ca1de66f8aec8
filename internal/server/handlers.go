package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/crimson-sun/plantpulse/internal/connector"
	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

// Classifier is the engine surface the handlers need. *engine.Engine
// satisfies it.
type Classifier interface {
	Process(ctx context.Context, obs model.Observation) (model.Assessment, error)
	Ready() bool
}

type handler struct {
	cls Classifier
	out output.Output // may be nil
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

type stressResponse struct {
	Message       string    `json:"message"`
	ID            string    `json:"id,omitempty"`
	ClassIndex    *int      `json:"class_index,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	Probabilities []float32 `json:"probabilities,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind model.Kind, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Message: msg, Kind: string(kind)})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind model.Kind) int {
	switch kind {
	case model.KindShapeMismatch, model.KindInvalidValue:
		return http.StatusBadRequest
	case model.KindLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	state := "unloaded"
	if h.cls.Ready() {
		state = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "model": state})
}

func (h *handler) stress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	reqID := RequestID(r.Context())

	obs, err := decodeRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, model.KindInvalidValue,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		slog.Debug("bad stress request", "request_id", reqID, "error", err)
		writeError(w, http.StatusBadRequest, model.KindInvalidValue, err.Error())
		return
	}

	a, err := h.cls.Process(r.Context(), obs)
	if err != nil {
		kind := model.KindOf(err)
		status := StatusFor(kind)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			slog.Error("stress classification failed", "request_id", reqID, "kind", kind, "error", err)
			msg = "stress classification failed"
		} else {
			slog.Warn("stress request rejected", "request_id", reqID, "kind", kind, "error", err)
		}
		writeError(w, status, kind, msg)
		return
	}

	if h.out != nil {
		if err := h.out.Write(r.Context(), a); err != nil {
			slog.Warn("output write failed", "request_id", reqID, "error", err)
		}
	}

	resp := stressResponse{Message: a.Label}
	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); detail {
		idx := a.ClassIndex
		resp.ID = a.ID
		resp.ClassIndex = &idx
		resp.Confidence = a.Confidence
		resp.Probabilities = a.Probabilities
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeRequest builds an observation from a JSON body, a form body, or
// (for a bodiless GET) the query string.
func decodeRequest(r *http.Request) (model.Observation, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var obs model.Observation
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := parseForm(r, ct); err != nil {
			return model.Observation{}, err
		}
		obs = fromForm(r.PostForm)
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return model.Observation{}, err
		}
		switch {
		case len(strings.TrimSpace(string(body))) > 0:
			o, err := connector.DecodeObservation(body, "http")
			if err != nil {
				return model.Observation{}, err
			}
			obs = o
		case r.Method == http.MethodGet && len(r.URL.Query()) > 0:
			obs = fromForm(r.URL.Query())
		default:
			obs = model.Observation{Source: "http", Values: map[string]any{}}
		}
	}
	if obs.PlantID == "" {
		obs.PlantID = r.URL.Query().Get(connector.KeyPlantID)
	}
	return obs, nil
}

func parseForm(r *http.Request, ct string) error {
	if ct == "multipart/form-data" {
		return r.ParseMultipartForm(1 << 20)
	}
	return r.ParseForm()
}

// reserved query parameters that are never readings
var reservedParams = map[string]bool{"detail": true}

// fromForm maps form fields to named readings. A "features" field holds
// comma-separated positional values.
func fromForm(values map[string][]string) model.Observation {
	obs := model.Observation{Source: "http"}
	m := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 0 || reservedParams[k] {
			continue
		}
		switch k {
		case connector.KeyPlantID:
			obs.PlantID = vs[0]
		case connector.KeyTimestamp:
			// server time is used for form posts
		case connector.KeyFeatures:
			parts := strings.Split(vs[0], ",")
			vec := make([]any, len(parts))
			for i, p := range parts {
				vec[i] = strings.TrimSpace(p)
			}
			obs.Vector = vec
		default:
			m[k] = vs[0]
		}
	}
	if obs.Vector == nil {
		obs.Values = m
	}
	return obs
}
