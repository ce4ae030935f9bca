package api

// registerMetricsRoutes mounts the Prometheus handler on the mux, outside huma.
func (s *Server) registerMetricsRoutes() {
	if s.options.PrometheusHandler == nil {
		return
	}
	s.mux.Handle("GET /metrics", s.options.PrometheusHandler)
}
