package httpserver

import (
	"net/http"
	"time"

	"github.com/portfoliodash/payserver/internal/circuitbreaker"
	"github.com/portfoliodash/payserver/pkg/responders"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	status := "ok"
	razorpayState := h.breakers.State(circuitbreaker.ServiceRazorpay)
	if razorpayState == "open" {
		status = "degraded"
	}

	response := map[string]any{
		"status":    status,
		"uptime":    now.Sub(serverStartTime).Round(time.Second).String(),
		"timestamp": now.UTC(),
		"storage":   h.cfg.Storage.Backend,
		"circuit_breakers": map[string]string{
			string(circuitbreaker.ServiceRazorpay): razorpayState,
			string(circuitbreaker.ServiceCallback): h.breakers.State(circuitbreaker.ServiceCallback),
		},
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	responders.JSON(w, http.StatusOK, response)
}
