package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"realmarena/protocol"
)

// Routes 全部 HTTP 入口；gatherer 为 nil 时不挂 /metrics
func (s *Server) Routes(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	// 管理与监控接口
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/admin/stats", s.HandleAdminStats)
	mux.HandleFunc("/admin/reap", s.HandleAdminReap)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	schema := protocol.Schema()
	mux.HandleFunc("/protocol/schema", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, schema)
	})
	return mux
}
