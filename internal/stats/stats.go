package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	Connections   = "Connections"
	MessagesSent  = "MessagesSent"
	SendRejected  = "SendRejected"
	GroupsExpired = "GroupsExpired"
	WarningsSent  = "WarningsSent"
	GroupsCleaned = "GroupsCleaned"
)

// AllMetrics is the set of counters registered by the server.
var AllMetrics = []string{
	Connections,
	MessagesSent,
	SendRejected,
	GroupsExpired,
	WarningsSent,
	GroupsCleaned,
}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	Add(name string, delta int)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	done       chan struct{}
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater and mounts its handler on mux.
// The map is not published globally so several updaters can coexist in
// one process.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
		vars:       new(expvar.Map).Init(),
		done:       make(chan struct{}),
	}
	if mux != nil {
		mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for {
		select {
		case req := <-su.updateChan:
			if metric, ok := su.vars.Get(req.name).(*expvar.Int); ok {
				metric.Add(int64(req.value))
			}
		case <-su.done:
			return
		}
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.Add(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.Add(name, -1)
}

// Add drops the update when the queue is full rather than stall a caller
// on the message path.
func (su *StatsUpdater) Add(name string, delta int) {
	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: delta}:
	default:
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	if su.vars.Get(name) != nil {
		return
	}
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Value(name string) int64 {
	if v, ok := su.vars.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.done)
}

// Noop discards every update. It backs one-shot tools that have no
// metrics endpoint.
type Noop struct{}

func (Noop) Incr(string)           {}
func (Noop) Decr(string)           {}
func (Noop) Add(string, int)       {}
func (Noop) RegisterMetric(string) {}
func (Noop) Run()                  {}
