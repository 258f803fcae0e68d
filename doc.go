// Package rpcbalancer and its sub-packages implement a balancer of blockchain RPC calls over a pool of backend
// providers of the same network.
/*
rpcbalancer provides you with two microservices:

1) a balancer microservice (package gateway) that implements a RESTful API for clients to submit calls to the active
 network, manage its backends and control how calls are routed.

2) an observer microservice (package observer) that keeps a persistent view of every network from the lifecycle events
 published by the balancer.

Architecture

The core of the balancer (package balancer) keeps a registry of backends with their capabilities, health and bounded
pools of workers. A submitted call is routed to the least busy healthy backend able to serve its method, preferring the
backends the caller allows and avoiding those that already failed it. Calls that time out or fail are retried on
another backend up to a maximum number of times. Backends reaching their failure threshold go offline and a health
monitor probes them until they answer again. The balancer can be pinned to a single backend (manual mode), flushed, or
switched to another network at runtime.

Backends are reached through adapters (package lib/backend): a raw JSON-RPC client and an ethcli client. Every
lifecycle event of the balancer is forwarded to the message broker (package lib/msg) and can be exported as Prometheus
metrics. The custom backends added at runtime and the routing mode of each network are persisted through a database
product agnostic layer (package lib/store), backed by MongoDB or PostgreSQL.

Both services are configured via a JSON config file (see cmd/conf.json) or OS ENV variables at startup. The services
can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Balancer

The balancer microservice can be started running cmd/rpcbalancer/main.go. The API provides the configured networks,
switches the active one, lists, adds and removes backends, submits calls, reports the balancer status, and sets the
auto or manual mode or flushes the balancer.

Observer

The observer microservice can be started running cmd/observer/main.go. The observer consumes the balancer events of
each configured network and saves the resulting view: backend states, live workers, call counters and latencies.

*/
package rpcbalancer
