package metrics

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mblakley/soccer-cam-go/config"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func wrap(h http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		h.ServeHTTP(w, r)
	}
}

func healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func ListenAndServe(listen string) error {
	router := httprouter.New()
	router.GET("/metrics", wrap(promhttp.Handler()))
	router.GET("/healthz", healthz)

	log.LogNoRequestID(
		"Starting Prometheus metrics",
		"version", config.Version,
		"host", listen,
	)
	return http.ListenAndServe(listen, router)
}
