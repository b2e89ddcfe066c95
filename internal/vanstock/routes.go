package vanstock

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes attaches the reconciliation API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/days/{vehicleID}/{date}", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Post("/draft", h.StageDraft)
		r.Post("/save", h.SaveDraft)
		r.Delete("/draft", h.DiscardDraft)
		r.Post("/carry-forward", h.CarryForward)
		r.Post("/commit-morning", h.CommitMorning)
		r.Post("/commit-closing", h.CommitClosing)
		r.Group(func(r chi.Router) {
			// Recalculate hits the external order system; keep it from
			// being hammered by impatient double-clicks.
			r.Use(httprate.LimitByIP(10, time.Minute))
			r.Post("/recalculate", h.Recalculate)
		})
	})
	r.Post("/sync", h.SyncNotification)
}
