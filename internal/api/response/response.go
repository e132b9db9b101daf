package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteApprovalRequired tells the caller a critical action needs the
// approval gate, carrying the pending request's id so the caller can
// offer the approval flow. 428 keeps it distinct from a plain 403.
func WriteApprovalRequired(w http.ResponseWriter, requestID string) {
	WriteJSON(w, http.StatusPreconditionRequired, map[string]string{
		"error":               "approval required",
		"kind":                "approval_required",
		"approval_request_id": requestID,
	})
}

// PaginatedResponse wraps a list with pagination metadata.
type PaginatedResponse struct {
	Items      any    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// WritePaginated writes a paginated JSON response.
func WritePaginated(w http.ResponseWriter, status int, items any, nextCursor string, hasMore bool) {
	WriteJSON(w, status, PaginatedResponse{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	})
}
