package handlers

import (
	"net/http"
	"time"

	"github.com/liderhq/payhub/internal/handlers/render"
	"github.com/liderhq/payhub/internal/logger"
)

func handleStatsSeries(reports statsService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		var from, to time.Time
		q := r.URL.Query()
		if v := q.Get("from"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				render.ServiceError(w, "invalid 'from' timestamp, expected RFC3339", http.StatusBadRequest)
				return
			}
			from = parsed
		}
		if v := q.Get("to"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				render.ServiceError(w, "invalid 'to' timestamp, expected RFC3339", http.StatusBadRequest)
				return
			}
			to = parsed
		}
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			render.ServiceError(w, "'to' must not precede 'from'", http.StatusBadRequest)
			return
		}

		series, err := reports.Series(r.Context(), userID, from, to)
		if err != nil {
			l.Error("Failed to build stats series", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, series)
	})
}

func handleStatsTotals(reports statsService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		totals, err := reports.Totals(r.Context(), userID)
		if err != nil {
			l.Error("Failed to get stats totals", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, totals)
	})
}
