package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *APIHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/api/health", h.HealthCheckHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/claims", h.SubmitClaimHandler)
		r.Get("/claims/{id}", h.GetClaimHandler)
		r.Post("/claims/{id}/assess", h.AssessClaimHandler)
		r.Get("/claims/{id}/assessments", h.ListAssessmentsHandler)
		r.Get("/claims/{id}/payouts", h.ListPayoutsHandler)
		r.Post("/claims/{id}/payouts/resubmit", h.ResubmitPayoutHandler)

		r.Post("/validators", h.RegisterValidatorHandler)
		r.Get("/validators/{id}", h.GetValidatorHandler)
		r.Post("/validators/{id}/stake", h.StakeHandler)

		r.Get("/sessions/{id}", h.GetSessionHandler)
		r.Post("/sessions/{id}/votes", h.SubmitVoteHandler)

		r.Get("/emergency-fund", h.EmergencyFundHandler)

		r.Get("/rules", h.ListRulesHandler)
		r.Get("/rules/{id}/history", h.RuleHistoryHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.adminMiddleware)
			r.Post("/claims/{id}/override", h.OverrideHandler)
			r.Post("/validators/{id}/slash", h.SlashHandler)
			r.Post("/emergency-fund/top-up", h.TopUpHandler)
			r.Post("/rules", h.CreateRuleHandler)
			r.Delete("/rules/{id}", h.DeactivateRuleHandler)
		})
	})

	return r
}
