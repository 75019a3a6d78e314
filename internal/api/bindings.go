package api

import (
	"net/http"
	"time"
)

type intentSummary struct {
	Intent         string   `json:"intent"`
	Table          string   `json:"table"`
	RequiredParams []string `json:"required_params"`
	Joins          int      `json:"joins"`
}

func handleListBindings(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "BINDINGS_NOT_CONFIGURED", "binding registry is not configured", false, nil)
		return
	}
	snapshot := deps.Registry.Active()

	summaries := make([]intentSummary, 0)
	for _, name := range snapshot.Intents() {
		binding, _ := snapshot.Lookup(name)
		summaries = append(summaries, intentSummary{
			Intent:         name,
			Table:          binding.Table,
			RequiredParams: binding.RequiredParams,
			Joins:          len(binding.JoinRules),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   snapshot.Version,
		"loaded_at": deps.Registry.LoadedAt().Format(time.RFC3339),
		"intents":   summaries,
	})
}

func handleReloadBindings(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "BINDINGS_NOT_CONFIGURED", "binding registry is not configured", false, nil)
		return
	}
	snapshot, err := deps.Registry.Reload()
	if err != nil {
		// The previous snapshot stays active; this is not a service outage.
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "BINDINGS_RELOAD_FAILED", "bindings reload failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": snapshot.Version,
		"intents": len(snapshot.Intents()),
	})
}
