// Package server exposes the catalog, ad-hoc dispatch and dispatch history
// over HTTP.
//
// Routes:
//
//	GET  /healthz              store and resolver health
//	GET  /metrics              Prometheus metrics
//	GET  /v1/catalog           every category with its properties and operations
//	GET  /v1/catalog/{id}      one category
//	POST /v1/dispatch          dispatch one definition (?dry_run=true records only)
//	POST /v1/status            query whether an entity exists
//	GET  /v1/history           dispatch history (run, category, entity, status, since, limit, offset)
//	GET  /v1/history/{id}      one dispatch record
//	GET  /v1/runs              apply runs, newest first
//	GET  /v1/runs/{id}         one run
//
// Request bodies hold a single definition in its JSON form. Engine error
// codes are returned in the "code" field of error responses.
package server
