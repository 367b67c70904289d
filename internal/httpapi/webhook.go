package httpapi

import (
	"net/http"
	"time"

	"voicedash/internal/events"

	"github.com/gin-gonic/gin"
)

// ProviderStatusCallback ingests telephony status callbacks as a second
// inbound event path. The form is normalized into the same event union
// the stream uses, so the reconciler's idempotence rules apply unchanged.
func (h *Handlers) ProviderStatusCallback(c *gin.Context) {
	form, err := events.ParseStatusCallback(c.Request)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid status callback")
		return
	}
	ev, err := form.Event(time.Now())
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid status callback")
		return
	}

	h.Reconciler.Apply(c.Request.Context(), ev)
	c.Status(http.StatusNoContent)
}
