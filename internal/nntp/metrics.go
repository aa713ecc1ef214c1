package nntp

import "time"

// Op names a pooled NNTP operation.
type Op string

const (
	OpStat      Op = "stat"
	OpBody      Op = "body"
	OpKeepAlive Op = "keepalive"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeMissing Outcome = "missing"
	OutcomeFailure Outcome = "failure"
)

// Metrics receives one observation per pooled operation and one per
// connection lifecycle event. Implementations must be safe for concurrent use.
type Metrics interface {
	Observe(op Op, outcome Outcome, latency time.Duration, bytes int)
	ConnectionOpened()
	ConnectionClosed(replaced bool)
}

type nopMetrics struct{}

func (nopMetrics) Observe(Op, Outcome, time.Duration, int) {}
func (nopMetrics) ConnectionOpened()                       {}
func (nopMetrics) ConnectionClosed(bool)                   {}

// NopMetrics discards all observations.
var NopMetrics Metrics = nopMetrics{}
