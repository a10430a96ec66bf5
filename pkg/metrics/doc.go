/*
Package metrics defines and registers vriftd's Prometheus collectors:
VDir generation/load-factor gauges, lookup latency and fallback
counters, routing-decision and perimeter-block counters, commit and
ingest duration histograms, CAS promotion/dedup/GC counters, and
watchdog disconnect/reap counters.

Every collector is registered against the default Prometheus registry
at package init, so importing this package is enough to make its
metrics scrapeable once Handler is mounted on an HTTP mux.

Handler exposes the registry over HTTP for scraping. HealthHandler,
ReadyHandler, and LivenessHandler expose a small JSON health surface
independent of Prometheus, for simple process supervisors that just
need an HTTP 200.

Timer/NewTimer/ObserveDuration is a small helper for recording a
histogram observation around a call without hand-writing time.Since at
every call site.
*/
package metrics
