package internal

import "expvar"

var (
	requestsTotal   = expvar.NewMap("formhooks_requests_total")
	parseErrors     = expvar.NewMap("formhooks_parse_errors_total")
	repairsTotal    = expvar.NewMap("formhooks_repairs_total")
	sinkErrors      = expvar.NewMap("formhooks_sink_errors_total")
	publishErrors   = expvar.NewMap("formhooks_publish_errors_total")
	deliveriesTotal = expvar.NewMap("formhooks_worker_deliveries_total")
)

// IncRequest counts a request by its outcome, e.g. "accepted" or "unauthorized".
func IncRequest(outcome string) {
	requestsTotal.Add(outcome, 1)
}

// IncParseError counts a rejected body by decode category.
func IncParseError(category string) {
	parseErrors.Add(category, 1)
}

func IncRepair(outcome string) {
	repairsTotal.Add(outcome, 1)
}

func IncSinkError(sink string) {
	sinkErrors.Add(sink, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

// IncDelivery counts worker deliveries by outcome.
func IncDelivery(outcome string) {
	deliveriesTotal.Add(outcome, 1)
}
