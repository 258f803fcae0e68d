package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const timeout = 15

// Handler returns the router of the RESTful API.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", g.homeHandler)
	r.HandleFunc("/networks", g.networksHandler).Methods(http.MethodGet)              // configured networks
	r.HandleFunc("/networks/{name}", g.switchHandler).Methods(http.MethodPost)        // switch the active network
	r.HandleFunc("/backends", g.backendsHandler).Methods(http.MethodGet)              // registry snapshot
	r.HandleFunc("/backends", g.addBackendHandler).Methods(http.MethodPost)           // add a custom backend
	r.HandleFunc("/backends/{id}", g.removeBackendHandler).Methods(http.MethodDelete) // remove a custom backend
	r.HandleFunc("/call", g.callHandler).Methods(http.MethodPost)                     // submit a call
	r.HandleFunc("/status", g.statusHandler).Methods(http.MethodGet)                  // balancer status
	r.HandleFunc("/balancer/auto", g.autoHandler).Methods(http.MethodPost)
	r.HandleFunc("/balancer/manual/{id}", g.manualHandler).Methods(http.MethodPost)
	r.HandleFunc("/balancer/flush", g.flushHandler).Methods(http.MethodPost)

	if g.MetricsHandler != nil {
		r.Handle("/metrics", g.MetricsHandler).Methods(http.MethodGet)
	}

	return r
}

// Init sets up and starts the http/https server to service the RESTful API for a gateway service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint. Init returns when
// the servers are shut down by Stop.
func (g *Gateway) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	h := g.Handler()

	// start http server
	if port != "" {
		g.s = &http.Server{
			Handler:      h,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = g.s.ListenAndServe()
		}()

		g.log.Info("listening to API http requests", zap.String("endpoint", endpoint), zap.String("port", port))
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		g.ss = &http.Server{
			Handler:      h,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = g.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		g.log.Info("listening to API https requests", zap.String("endpoint", endpoint), zap.String("port", sslPort))
	}
	// wait for servers to be shutdown
	<-g.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}
