package pipeline

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/httputil"
)

// AttachAdminRoutes mounts the pipeline debugging endpoints on the tsweb
// debugger, reachable only from localhost or over Tailscale.
func (p *Pipeline) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Session", func() any { return p.Status().SessionID })
	debug.KVFunc("Windows produced", func() any { return p.Status().Windows })
	debug.KVFunc("Buffered lines", func() any {
		s := p.Status()
		return []int{s.Buffered, s.Capacity}
	})
	debug.KVFunc("Batch uploads", func() any {
		s := p.Status()
		return map[string]uint64{"attempted": s.Flushes, "failed": s.FlushFailures}
	})

	debug.HandleFunc("pipeline-status", "pipeline counters as JSON", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, p.Status())
	})

	// upload the partial batch on the next loop iteration
	debug.HandleSilentFunc("pipeline-flush", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		if !p.RequestFlush() {
			httputil.WriteText(w, http.StatusConflict, "Flush already pending")
			return
		}
		httputil.WriteText(w, http.StatusAccepted, "Flush requested")
	})
}
