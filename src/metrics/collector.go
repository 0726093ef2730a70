// Package metrics exposes the dashboard's Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"KSIDashboard/src/dataset"
)

// Collector bundles the dataset, query and HTTP metrics. A nil *Collector
// is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Loads         *prometheus.CounterVec
	LoadDuration  prometheus.Histogram
	RowsKept      prometheus.Gauge
	RowsDropped   prometheus.Counter
	HoodsCoerced  prometheus.Counter
	Queries       *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	RequestTiming *prometheus.HistogramVec
	MailPolls     *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Loads, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ksi_dataset_loads_total",
		Help: "Dataset parses performed by the cache, labeled by result.",
	}, []string{"result"}), "ksi_dataset_loads_total"); err != nil {
		return nil, err
	}
	if c.LoadDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ksi_dataset_load_duration_seconds",
		Help:    "Time spent reading and cleaning the dataset source.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "ksi_dataset_load_duration_seconds"); err != nil {
		return nil, err
	}
	if c.RowsKept, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ksi_dataset_rows",
		Help: "Records in the most recently loaded table.",
	}), "ksi_dataset_rows"); err != nil {
		return nil, err
	}
	if c.RowsDropped, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ksi_rows_dropped_total",
		Help: "Source rows dropped for a missing latitude, longitude or age group.",
	}), "ksi_rows_dropped_total"); err != nil {
		return nil, err
	}
	if c.HoodsCoerced, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ksi_neighbourhood_coerced_total",
		Help: "Neighbourhood ids that failed numeric parsing and were set to 0.",
	}), "ksi_neighbourhood_coerced_total"); err != nil {
		return nil, err
	}
	if c.Queries, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ksi_queries_total",
		Help: "Filter queries served, labeled by selector kind and whether the value was in range.",
	}, []string{"kind", "in_range"}), "ksi_queries_total"); err != nil {
		return nil, err
	}
	if c.Requests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ksi_http_requests_total",
		Help: "HTTP requests, labeled by route template and status code.",
	}, []string{"route", "code"}), "ksi_http_requests_total"); err != nil {
		return nil, err
	}
	if c.RequestTiming, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ksi_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route"}), "ksi_http_request_duration_seconds"); err != nil {
		return nil, err
	}
	if c.MailPolls, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ksi_mail_polls_total",
		Help: "Mailbox polls for a new dataset attachment, labeled by result.",
	}, []string{"result"}), "ksi_mail_polls_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// ObserveLoad satisfies dataset.LoadObserver.
func (c *Collector) ObserveLoad(elapsed time.Duration, stats dataset.Stats, err error) {
	if c == nil {
		return
	}
	c.LoadDuration.Observe(elapsed.Seconds())
	if err != nil {
		c.Loads.WithLabelValues("error").Inc()
		return
	}
	c.Loads.WithLabelValues("ok").Inc()
	c.RowsKept.Set(float64(stats.Kept))
	c.RowsDropped.Add(float64(stats.Dropped))
	c.HoodsCoerced.Add(float64(stats.Coerced))
}

func (c *Collector) ObserveQuery(kind string, inRange bool) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(kind, strconv.FormatBool(inRange)).Inc()
}

func (c *Collector) ObserveRequest(route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.RequestTiming.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveMailPoll 记录一次邮箱轮询, saved 为本次保存的附件数
func (c *Collector) ObserveMailPoll(saved int, err error) {
	if c == nil {
		return
	}
	switch {
	case err != nil:
		c.MailPolls.WithLabelValues("error").Inc()
	case saved > 0:
		c.MailPolls.WithLabelValues("saved").Inc()
	default:
		c.MailPolls.WithLabelValues("empty").Inc()
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func alreadyRegistered(err error, name string) (prometheus.Collector, error) {
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector, nil
	}
	return nil, fmt.Errorf("register %s: %w", name, err)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		existing, err := alreadyRegistered(err, name)
		if err != nil {
			return nil, err
		}
		if v, ok := existing.(*prometheus.CounterVec); ok {
			return v, nil
		}
		return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		existing, err := alreadyRegistered(err, name)
		if err != nil {
			return nil, err
		}
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			return v, nil
		}
		return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		existing, err := alreadyRegistered(err, name)
		if err != nil {
			return nil, err
		}
		if v, ok := existing.(prometheus.Histogram); ok {
			return v, nil
		}
		return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		existing, err := alreadyRegistered(err, name)
		if err != nil {
			return nil, err
		}
		if v, ok := existing.(prometheus.Counter); ok {
			return v, nil
		}
		return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		existing, err := alreadyRegistered(err, name)
		if err != nil {
			return nil, err
		}
		if v, ok := existing.(prometheus.Gauge); ok {
			return v, nil
		}
		return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return gauge, nil
}
