package handlers

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/repository"
)

type TenantHandler struct {
	tenantRepo repository.TenantRepository
	logger     zerolog.Logger
}

func NewTenantHandler(tenantRepo repository.TenantRepository, logger zerolog.Logger) *TenantHandler {
	return &TenantHandler{
		tenantRepo: tenantRepo,
		logger:     logger.With().Str("handler", "tenant").Logger(),
	}
}

// Current returns the caller's tenant along with the change-feed channel
// the dashboard subscribes to.
func (h *TenantHandler) Current(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	tenant, err := h.tenantRepo.Get(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Tenant not found")
			return
		}
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to load tenant")
		writeError(w, http.StatusInternalServerError, "Failed to load tenant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant":  tenant,
		"channel": models.TenantChannel(tenant.ID),
	})
}
