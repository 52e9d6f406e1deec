package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// StatsProvider is the counter surface the realtime layer drives:
// connection and group gauges move up and down, message and upload
// counters only up.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater aggregates counter deltas through a buffered channel so
// hot paths (message fan-out, connect/disconnect) never contend on the
// expvar map directly.
type StatsUpdater struct {
	vars   *expvar.Map
	deltas chan counterDelta
}

type counterDelta struct {
	name  string
	delta int64
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		deltas: make(chan counterDelta, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.serveVars))
	su.vars = expvar.NewMap("chatterbox-stats")

	startTime := time.Now()
	su.vars.Set("UptimeMillis", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	snapshot := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		snapshot[kv.Key] = value
	})

	json.NewEncoder(w).Encode(snapshot)
}

func (su *StatsUpdater) drain() {
	for d := range su.deltas {
		counter := su.vars.Get(d.name)
		if counter == nil {
			// counters are registered at gateway construction, an
			// unknown name is a programming error
			panic("stats: counter not registered: " + d.name)
		}
		counter.(*expvar.Int).Add(d.delta)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.deltas <- counterDelta{name: name, delta: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.deltas <- counterDelta{name: name, delta: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Run() {
	go su.drain()
}

func (su *StatsUpdater) Stop() {
	close(su.deltas)
}
