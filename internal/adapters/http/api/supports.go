package api

import (
	"context"
	"net/http"

	"github.com/okian/fanpulse/internal/domain/types"
)

// SupportDependencies records fan supports.
type SupportDependencies interface {
	RecordSupport(ctx context.Context, req types.SupportRequest) (types.SupportReceipt, error)
}

// SupportsHandler handles support requests.
type SupportsHandler struct {
	deps SupportDependencies
}

// NewSupportsHandler creates a new supports handler.
func NewSupportsHandler(deps SupportDependencies) *SupportsHandler {
	return &SupportsHandler{deps: deps}
}

// HandlePostSupport handles POST /supports requests. The ledger commit is
// synchronous; minting, achievements and settlement follow asynchronously.
func (h *SupportsHandler) HandlePostSupport(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_support"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req types.SupportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	receipt, err := h.deps.RecordSupport(r.Context(), req)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	status := http.StatusCreated
	if receipt.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, receipt)
}
