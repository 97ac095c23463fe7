package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// all metrics and middlewares for the REST API and the login state machine
var (
	// to prevent metrics from being initialized multiple times
	isMetricsInitVar uint32 = 0

	// active REST API connections
	activeRESTConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rest_connections",
			Help: "Number of active REST API connections",
		},
	)

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	// size of the body for REST APIs
	requestSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_request_size_kilobytes",
			Help:    "REST API request size distributions",
			Buckets: []float64{200, 500, 900, 1500, 2000, 3000, 4000, 5000},
		},
		[]string{"method", "endpoint"},
	)

	responseSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_size_kilobytes",
			Help:    "REST API response size distributions",
			Buckets: []float64{200, 500, 900, 1500, 2000, 3000, 4000, 5000},
		},
		[]string{"method", "endpoint"},
	)

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint"})

	// Number of login flows started
	LoginFlowsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "login_flows_started_total",
		Help: "The total number of login flows started",
	})

	// Number of login flows that reached the complete state
	LoginFlowsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "login_flows_completed_total",
		Help: "The total number of login flows completed",
	})

	// Number of login flows that ended in error, by cause
	LoginFlowsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "login_flows_failed_total",
		Help: "The total number of login flows that failed",
	}, []string{"cause"})

	// Number of wallets provisioned
	WalletsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallets_created_total",
		Help: "The total number of wallets provisioned",
	})

	// Number of session tokens issued
	SessionTokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_tokens_issued_total",
		Help: "The total number of session tokens issued",
	})

	// Number of wallet recovery codes requested
	RecoveryCodesRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recovery_codes_requested_total",
		Help: "The total number of wallet recovery codes requested",
	})
)

func setIsMetricsInit() {
	atomic.StoreUint32(&isMetricsInitVar, 1)
}

func isMetricsInit() bool {
	return atomic.LoadUint32(&isMetricsInitVar) == 1
}

func InitMetrics() {
	if !isMetricsInit() {
		setIsMetricsInit()

		// Metrics have to be registered to be exposed
		prometheus.MustRegister(activeRESTConnections)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(LoginFlowsStarted)
		prometheus.MustRegister(LoginFlowsCompleted)
		prometheus.MustRegister(LoginFlowsFailed)
		prometheus.MustRegister(WalletsCreated)
		prometheus.MustRegister(SessionTokensIssued)
		prometheus.MustRegister(RecoveryCodesRequested)
		prometheus.MustRegister(requestSizeRESTAPI)
		prometheus.MustRegister(responseSizeRESTAPI)
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Increment the counter for the given endpoint:
		RESTRequestMetricsTotal.WithLabelValues(c.Request.Method, c.FullPath()).Inc()

		r := c.Request
		w := c.Writer

		// Start timing responseTime histogram
		start := time.Now()

		// Set activeConnections gauge
		activeRESTConnections.Inc()
		defer activeRESTConnections.Dec()

		c.Next()

		// after request

		// observe request size in kilobtyes
		if r.ContentLength > 0 {
			requestSizeRESTAPI.WithLabelValues(c.Request.Method, c.Request.URL.Path).Observe(float64(r.ContentLength) / 1024)
		}

		// set response size
		if w.Size() > 0 {
			responseSizeRESTAPI.WithLabelValues(c.Request.Method, c.Request.URL.Path).Observe(float64(w.Size()) / 1024)
		}

		// Set responseTime histogram
		latency := time.Since(start)
		responseTimeRESTAPI.WithLabelValues(c.Request.Method, c.Request.URL.Path).Observe(float64(latency.Milliseconds()))
	}
}
