package pool

import (
	"github.com/nostrcore/relaypool/relay"
)

// RelayHealth is a point-in-time health snapshot for one relay,
// computed passively from relay.Stats instead of an active
// dial-and-QuerySync poll: there is no separate health-check goroutine,
// the score is derived from the same counters the connection already
// maintains on its hot path.
type RelayHealth struct {
	URL          relay.URL
	State        relay.State
	AvgLatencyMs int64
	SuccessRate  float64
	EventsIn     int64
	Score        float64
}

// Monitor aggregates relay.Stats across every connection in a Pool on
// demand; it holds no goroutine of its own.
type Monitor struct {
	pool *Pool
}

func newMonitor(p *Pool) *Monitor {
	return &Monitor{pool: p}
}

// Snapshot returns a RelayHealth for every relay currently in the pool.
func (m *Monitor) Snapshot() []RelayHealth {
	out := make([]RelayHealth, 0, len(m.pool.urls()))
	for _, c := range m.pool.conns() {
		out = append(out, healthOf(c))
	}
	return out
}

func healthOf(c *relay.Conn) RelayHealth {
	stats := c.Stats()
	avg := stats.AverageLatency()
	rate := stats.SuccessRate()

	connectionScore := 0.0
	if c.State() == relay.Connected {
		connectionScore = 100.0
	}
	latencyScore := latencyScore(avg.Milliseconds())
	successScore := rate * 100.0

	score := connectionScore*0.40 + latencyScore*0.30 + successScore*0.30
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return RelayHealth{
		URL:          c.URL(),
		State:        c.State(),
		AvgLatencyMs: avg.Milliseconds(),
		SuccessRate:  rate,
		EventsIn:     stats.EventsIn.Load(),
		Score:        score,
	}
}

// latencyScore bands round-trip time into a 0-100 score: sub-100ms is
// perfect, 100-500ms falls off linearly to 50, 500-2000ms falls off to
// 0, and anything slower (or no data yet) scores 0.
func latencyScore(ms int64) float64 {
	switch {
	case ms <= 0:
		return 0
	case ms < 100:
		return 100.0
	case ms <= 500:
		return 100.0 - (float64(ms-100)/400.0)*50.0
	case ms <= 2000:
		return 50.0 - (float64(ms-500)/1500.0)*50.0
	default:
		return 0
	}
}
