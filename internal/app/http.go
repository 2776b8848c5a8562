package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgdispatch/internal/runtime/supervisor"
)

type health struct {
	Status   string                 `json:"status"`
	Time     time.Time              `json:"time"`
	LastPass *PassStatus            `json:"last_pass,omitempty"`
	Loops    []supervisor.LoopStats `json:"loops,omitempty"`
	Index    *indexHealth           `json:"index,omitempty"`
}

type indexHealth struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
}

// Handler serves /metrics and /healthz, plus /debug/pprof when serve.pprof
// is set.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", a.handleHealth)
	if a.Config().Serve.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{Status: "ok", Time: time.Now().UTC(), LastPass: a.LastPass()}

	a.mu.RLock()
	sup, lis := a.sup, a.listener
	a.mu.RUnlock()
	if sup != nil {
		h.Loops = sup.Snapshot()
		if sup.Err() != nil {
			h.Status = "degraded"
		}
	}
	if lis != nil {
		rec, failed := lis.Stats()
		h.Index = &indexHealth{Recorded: rec, Failed: failed}
	}
	if h.LastPass != nil && h.LastPass.Err != "" {
		h.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}
