// Package api exposes a StorageMechanism over HTTP: the RequestEngine
// maps HEAD/GET/PUT/POST/DELETE on the names, documents, contracts, and
// messages namespaces onto storage calls, with the error taxonomy
// translated to status codes. Server wires the engine, health checks, and
// the metrics endpoint onto one mux.
package api
