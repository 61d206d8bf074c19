package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"workescrow/gateway/audit"
)

var (
	errStreamUnavailable = errors.New("event stream not configured")
	errAuditUnavailable  = errors.New("audit log not configured")
)

type auditRecordJSON struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Type       string          `json:"type"`
	Instance   string          `json:"instance,omitempty"`
	ContractID string          `json:"contractId,omitempty"`
	Caller     string          `json:"caller,omitempty"`
	Status     int             `json:"status,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (s *server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSONError(w, http.StatusNotFound, errAuditUnavailable)
		return
	}
	query := r.URL.Query()
	filter := audit.Filter{
		Kind:     strings.TrimSpace(query.Get("kind")),
		Type:     strings.TrimSpace(query.Get("type")),
		Instance: strings.TrimSpace(query.Get("instance")),
		Caller:   strings.TrimSpace(query.Get("caller")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	records, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list audit records", "error", err)
		writeError(w, err)
		return
	}
	out := make([]auditRecordJSON, 0, len(records))
	for _, rec := range records {
		item := auditRecordJSON{
			ID:         rec.ID.String(),
			Kind:       rec.Kind,
			Type:       rec.Type,
			Instance:   rec.Instance,
			ContractID: rec.ContractID,
			Caller:     rec.Caller,
			Status:     rec.Status,
			CreatedAt:  rec.CreatedAt,
		}
		if rec.Attributes != "" && json.Valid([]byte(rec.Attributes)) {
			item.Attributes = json.RawMessage(rec.Attributes)
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}
