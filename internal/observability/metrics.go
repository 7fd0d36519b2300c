package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "billnotif_api_requests_total", Help: "Admin API requests"},
		[]string{"endpoint", "status"},
	)
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "billnotif_dispatch_runs_total", Help: "Dispatch runs by trigger and result"},
		[]string{"trigger", "result"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "billnotif_dispatch_run_duration_seconds", Help: "Dispatch run duration"},
	)
	Recipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "billnotif_recipients_total", Help: "Recipient outcomes"},
		[]string{"result"},
	)
	ChannelSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "billnotif_channel_send_total", Help: "Channel send outcomes"},
		[]string{"channel", "result"},
	)
	ChannelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "billnotif_channel_send_latency_seconds", Help: "Channel send latency"},
		[]string{"channel"},
	)
	ItemsMarked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "billnotif_items_marked_total", Help: "Pending items marked sent"},
		[]string{"result"},
	)
	DriverState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "billnotif_driver_state", Help: "1 for the schedule driver's current state"},
		[]string{"state"},
	)
	ConsecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "billnotif_driver_consecutive_errors", Help: "Consecutive failed scheduled runs"},
	)
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "billnotif_alerts_total", Help: "Critical alert deliveries"},
		[]string{"sink", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Runs, RunDuration, Recipients, ChannelSend, ChannelLatency,
		ItemsMarked, DriverState, ConsecutiveErrors, Alerts)
}
