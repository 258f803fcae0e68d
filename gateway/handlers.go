package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tarancss/rpcbalancer/balancer"
	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/store"
)

// calls must be answered before the server write timeout
const callTimeout = (timeout - 1) * time.Second

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNoMethod   = errors.New("missing method")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// CallReq is the body of a call request. Allow optionally lists the preferred backends.
type CallReq struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
	Allow  []string      `json:"allow,omitempty"`
}

// NetworksRes is the body of the networks reply.
type NetworksRes struct {
	Active   string   `json:"active"`
	Networks []string `json:"networks"`
}

// status returns the http status code for err.
func status(err error) int {
	var ce *balancer.CallError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoMethod), errors.Is(err, balancer.ErrNotCustom),
		errors.Is(err, balancer.ErrInvalidDescriptor):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoNet), errors.Is(err, balancer.ErrUnknownBackend):
		return http.StatusNotFound
	case errors.Is(err, balancer.ErrDuplicateBackend), errors.Is(err, store.ErrBackendExists):
		return http.StatusConflict
	case errors.Is(err, balancer.ErrNoBackend), errors.Is(err, balancer.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &ce):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	return http.StatusInternalServerError
}

// reply writes the response envelope: body marshalled to JSON on success, the error otherwise.
func (g *Gateway) reply(rw http.ResponseWriter, r *http.Request, body interface{}, err error) {
	var res Response

	if err == nil {
		var tmp []byte
		if tmp, err = json.Marshal(body); err == nil {
			res.Body = string(tmp)
		}
	}

	if err != nil {
		res.Error = err.Error()
	}

	code := status(err)

	// log request
	if code >= http.StatusInternalServerError {
		g.log.Warn("httpreq", zap.String("from", r.RemoteAddr), zap.String("uri", r.RequestURI),
			zap.Int("status", code), zap.Error(err))
	} else {
		g.log.Debug("httpreq", zap.String("from", r.RemoteAddr), zap.String("uri", r.RequestURI),
			zap.Int("status", code), zap.Error(err))
	}

	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (g *Gateway) homeHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, r, "Hello, this is your multi-backend RPC balancer!", nil)
}

// networksHandler replies the configured networks and the active one.
func (g *Gateway) networksHandler(rw http.ResponseWriter, r *http.Request) {
	res := NetworksRes{Active: g.bal.Network(), Networks: make([]string, 0, len(g.conf.Networks))}

	for _, n := range g.conf.Networks {
		res.Networks = append(res.Networks, n.Name)
	}

	g.reply(rw, r, res, nil)
}

// switchHandler switches the balancer to the network in the uri.
func (g *Gateway) switchHandler(rw http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	err := g.SwitchNetwork(name)

	g.reply(rw, r, g.bal.Network(), err)
}

// backendsHandler replies the backends of the active network.
func (g *Gateway) backendsHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, r, g.bal.Backends(), nil)
}

// addBackendHandler adds the custom backend in the request body to the active network and saves it.
func (g *Gateway) addBackendHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var bc config.BackendConfig

	defer func() {
		g.reply(rw, r, bc.ID, err)
	}()

	if err = json.NewDecoder(r.Body).Decode(&bc); err != nil || bc.ID == "" {
		err = fmt.Errorf("%w: a backend with id, kind and url is required", ErrBadRequest)

		return
	}

	bc.Custom = true

	d, err := Descriptor(bc)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	if err = g.bal.AddBackend(d); err != nil {
		d.Invoker.Close()

		return
	}

	if g.db == nil {
		return
	}

	net := g.bal.Network()
	if err = g.db.AddBackend(net, bc); err != nil {
		// keep registry and store in step
		if errRm := g.bal.RemoveBackend(bc.ID); errRm != nil {
			g.log.Warn("cannot roll back backend", zap.String("backend", bc.ID), zap.Error(errRm))
		}
	}
}

// removeBackendHandler removes the custom backend in the uri from the active network and the store.
func (g *Gateway) removeBackendHandler(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := g.bal.RemoveBackend(id)
	if err == nil && g.db != nil {
		if errDB := g.db.RemoveBackend(g.bal.Network(), id); errDB != nil {
			g.log.Warn("cannot remove backend from store", zap.String("backend", id), zap.Error(errDB))
		}

		err = g.saveSettings()
	}

	g.reply(rw, r, id, err)
}

// callHandler submits the call in the request body and replies its result.
func (g *Gateway) callHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var req CallReq

	var res interface{}

	defer func() {
		g.reply(rw, r, res, err)
	}()

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	if req.Method == "" {
		err = ErrNoMethod

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()

	res, err = g.bal.Submit(ctx, req.Method, req.Args, req.Allow...)
}

// statusHandler replies the status of the balancer.
func (g *Gateway) statusHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, r, g.bal.Status(), nil)
}

// autoHandler sets the balancer to auto mode.
func (g *Gateway) autoHandler(rw http.ResponseWriter, r *http.Request) {
	g.bal.SetAuto()

	g.reply(rw, r, "auto", g.saveSettings())
}

// manualHandler pins the balancer to the backend in the uri.
func (g *Gateway) manualHandler(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := g.bal.SetManual(id)
	if err == nil {
		err = g.saveSettings()
	}

	g.reply(rw, r, id, err)
}

// flushHandler flushes the balancer.
func (g *Gateway) flushHandler(rw http.ResponseWriter, r *http.Request) {
	g.bal.Flush()

	g.reply(rw, r, "flushed", nil)
}
