package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the package's Prometheus counters. A nil *Collector is a
// valid no-op, so Config.Metrics can simply be left unset.
type Collector struct {
	loginSuccess  prometheus.Counter
	loginFailure  prometheus.Counter
	registrations prometheus.Counter
	oauthLogins   *prometheus.CounterVec
	rowsPruned    prometheus.Counter
}

// NewCollector creates the counters and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_login_success_total",
			Help: "Successful credential logins.",
		}),
		loginFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_login_failure_total",
			Help: "Rejected credential logins (unknown email, bad password, inactive account).",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "New user registrations.",
		}),
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_oauth_logins_total",
			Help: "Completed OAuth logins by provider.",
		}, []string{"provider"}),
		rowsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_rows_pruned_total",
			Help: "Expired session and OAuth state rows removed by the sweep.",
		}),
	}
	reg.MustRegister(c.loginSuccess, c.loginFailure, c.registrations, c.oauthLogins, c.rowsPruned)
	return c
}

func (c *Collector) recordLogin(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.loginSuccess.Inc()
		return
	}
	c.loginFailure.Inc()
}

func (c *Collector) recordRegistration() {
	if c == nil {
		return
	}
	c.registrations.Inc()
}

func (c *Collector) recordOAuthLogin(provider string) {
	if c == nil {
		return
	}
	c.oauthLogins.WithLabelValues(provider).Inc()
}

func (c *Collector) recordPruned(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsPruned.Add(float64(n))
}
