package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sawpanic/spreadwatch/internal/storage"
)

var requiredIngestFields = []string{"pair", "ts_ms", "price_a", "price_b", "spread", "z", "mean", "std"}

func decodeJSONBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

// handleIngest validates required keys, persists the sample, and
// broadcasts the raw payload to every WebSocket subscriber for that pair
// (spec §4.6 "ingest").
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	for _, key := range requiredIngestFields {
		if _, ok := raw[key]; !ok {
			writeError(w, http.StatusBadRequest, "missing field "+key)
			return
		}
	}

	var sample storage.Sample
	if err := json.Unmarshal(body, &sample); err != nil {
		writeError(w, http.StatusBadRequest, "malformed sample: "+err.Error())
		return
	}

	if err := s.store.Insert(r.Context(), sample); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.ingestTotal.Inc()
	s.ws.broadcast(sample.Pair, bytes.TrimSpace(body))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
