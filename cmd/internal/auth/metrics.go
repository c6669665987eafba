package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/permission"
)

// Metrics are the auth counters. A nil *Metrics records nothing.
type Metrics struct {
	authenticate *prometheus.CounterVec
	denied       *prometheus.CounterVec
	login        *prometheus.CounterVec
	redeem       *prometheus.CounterVec
	logout       *prometheus.CounterVec
}

// NewMetrics registers the auth counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		authenticate: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espaco",
			Subsystem: "auth",
			Name:      "authenticate_total",
			Help:      "Bearer token authentications by result.",
		}, []string{"result"}),
		denied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espaco",
			Subsystem: "auth",
			Name:      "authorize_denied_total",
			Help:      "Permission denials by role, resource and action.",
		}, []string{"role", "resource", "action"}),
		login: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espaco",
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		redeem: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espaco",
			Subsystem: "auth",
			Name:      "invite_redeem_total",
			Help:      "Invite redemptions by result.",
		}, []string{"result"}),
		logout: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espaco",
			Subsystem: "auth",
			Name:      "logout_total",
			Help:      "Logouts by scope.",
		}, []string{"scope"}),
	}
}

func (m *Metrics) authenticated(err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case identity.IsRevoked(err):
		result = "revoked"
	case identity.IsUnauthenticated(err):
		result = "unauthenticated"
	default:
		result = identity.KindOf(err)
	}
	m.authenticate.WithLabelValues(result).Inc()
}

func (m *Metrics) deniedFor(role identity.Role, res permission.Resource, act permission.Action) {
	if m == nil {
		return
	}
	m.denied.WithLabelValues(string(role), string(res), string(act)).Inc()
}

func (m *Metrics) loggedIn(err error) {
	if m == nil {
		return
	}
	m.login.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) redeemed(err error) {
	if m == nil {
		return
	}
	m.redeem.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) loggedOut(scope string) {
	if m == nil {
		return
	}
	m.logout.WithLabelValues(scope).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return identity.KindOf(err)
}
