package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency       = metric.NewHistogram("1m1s")
	MailboxDepth          = metric.NewHistogram("10s1s")
	PacketsReceived       = metric.NewCounter("10s1s")
	PacketsDropped        = metric.NewCounter("10s1s")
	PacketsForwarded      = metric.NewCounter("10s1s")
	PacketsRebroadcast    = metric.NewCounter("10s1s")
	FramesSent            = metric.NewCounter("10s1s")
	OutboundBuffered      = metric.NewCounter("10s1s")
	EdgeErrorsPerSecond   = metric.NewCounter("10s1s")
	GraphChangesPerSecond = metric.NewCounter("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("skein:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("skein:MailboxDepth", MailboxDepth)

	expvar.Publish("skein:PacketsReceived/s", PacketsReceived)
	expvar.Publish("skein:PacketsDropped/s", PacketsDropped)
	expvar.Publish("skein:PacketsForwarded/s", PacketsForwarded)
	expvar.Publish("skein:PacketsRebroadcast/s", PacketsRebroadcast)
	expvar.Publish("skein:FramesSent/s", FramesSent)
	expvar.Publish("skein:OutboundBuffered/s", OutboundBuffered)
	expvar.Publish("skein:EdgeErrors/s", EdgeErrorsPerSecond)
	expvar.Publish("skein:GraphChanges/s", GraphChangesPerSecond)
}
