package observers

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anggasct/logicdriver/pkg/core"
)

const metricsNamespace = "logicdriver"

// MetricsObserver collects metrics about state machine execution. Counts are
// kept in memory and exported as Prometheus collectors.
type MetricsObserver struct {
	stateVisits      map[string]int
	stateTimeSpent   map[string]time.Duration
	transitionCounts map[string]int
	errorCount       int
	mutex            sync.RWMutex

	stateEntries *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	errors       *prometheus.CounterVec
	activeStates *prometheus.GaugeVec
	timeInState  *prometheus.HistogramVec
}

var _ core.ExtendedObserver = (*MetricsObserver)(nil)

// NewMetricsObserver creates a new metrics observer and registers its
// collectors with reg. A nil registerer skips registration.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		stateVisits:      make(map[string]int),
		stateTimeSpent:   make(map[string]time.Duration),
		transitionCounts: make(map[string]int),

		stateEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_entries_total",
			Help:      "Number of times a state started.",
		}, []string{"machine", "state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transitions_total",
			Help:      "Number of transitions taken.",
		}, []string{"machine", "transition"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Number of errors reported by instances.",
		}, []string{"machine"}),
		activeStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_states",
			Help:      "Number of active states per machine.",
		}, []string{"machine"}),
		timeInState: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "time_in_state_seconds",
			Help:      "Accumulated tick time a state was active before it ended.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"machine", "state"}),
	}
	if reg == nil {
		return o, nil
	}
	for _, c := range o.Collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Collectors returns every Prometheus collector owned by the observer.
func (o *MetricsObserver) Collectors() []prometheus.Collector {
	return []prometheus.Collector{o.stateEntries, o.transitions, o.errors, o.activeStates, o.timeInState}
}

// OnStateStarted records state entry metrics
func (o *MetricsObserver) OnStateStarted(inst *core.Instance, state core.StateNode) {
	name := nameOf(state)
	o.mutex.Lock()
	o.stateVisits[name]++
	o.mutex.Unlock()

	o.stateEntries.WithLabelValues(inst.Name(), name).Inc()
}

// OnTransitionTaken records transition metrics
func (o *MetricsObserver) OnTransitionTaken(inst *core.Instance, t *core.Transition) {
	o.mutex.Lock()
	o.transitionCounts[t.Name()]++
	o.mutex.Unlock()

	o.transitions.WithLabelValues(inst.Name(), t.Name()).Inc()
}

// OnStateChanged records the time spent in the state that ended and the
// size of the active set.
func (o *MetricsObserver) OnStateChanged(inst *core.Instance, to, from core.StateNode) {
	if from != nil && !from.IsActive() {
		name, seconds := nameOf(from), from.TimeInState()
		o.mutex.Lock()
		o.stateTimeSpent[name] += time.Duration(seconds * float64(time.Second))
		o.mutex.Unlock()

		o.timeInState.WithLabelValues(inst.Name(), name).Observe(seconds)
	}
	o.activeStates.WithLabelValues(inst.Name()).Set(float64(len(inst.GetAllActiveStates())))
}

func (o *MetricsObserver) OnInitialized(*core.Instance) {}
func (o *MetricsObserver) OnStarted(*core.Instance)     {}

func (o *MetricsObserver) OnStopped(inst *core.Instance) {
	o.activeStates.WithLabelValues(inst.Name()).Set(0)
}

func (o *MetricsObserver) OnShutdown(inst *core.Instance) {
	o.activeStates.DeleteLabelValues(inst.Name())
}

// OnError records error metrics
func (o *MetricsObserver) OnError(inst *core.Instance, err error) {
	o.mutex.Lock()
	o.errorCount++
	o.mutex.Unlock()

	o.errors.WithLabelValues(inst.Name()).Inc()
}

// GetStateVisitCounts returns the number of times each state was visited
func (o *MetricsObserver) GetStateVisitCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make(map[string]int, len(o.stateVisits))
	for state, count := range o.stateVisits {
		result[state] = count
	}
	return result
}

// GetStateTimeSpent returns the tick time spent in each state that ended
func (o *MetricsObserver) GetStateTimeSpent() map[string]time.Duration {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make(map[string]time.Duration, len(o.stateTimeSpent))
	for state, d := range o.stateTimeSpent {
		result[state] = d
	}
	return result
}

// GetTransitionCounts returns the number of times each transition occurred
func (o *MetricsObserver) GetTransitionCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make(map[string]int, len(o.transitionCounts))
	for transition, count := range o.transitionCounts {
		result[transition] = count
	}
	return result
}

// GetErrorCount returns the number of errors
func (o *MetricsObserver) GetErrorCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.errorCount
}

// Reset resets all metrics
func (o *MetricsObserver) Reset() {
	o.mutex.Lock()
	o.stateVisits = make(map[string]int)
	o.stateTimeSpent = make(map[string]time.Duration)
	o.transitionCounts = make(map[string]int)
	o.errorCount = 0
	o.mutex.Unlock()

	o.stateEntries.Reset()
	o.transitions.Reset()
	o.errors.Reset()
	o.activeStates.Reset()
	o.timeInState.Reset()
}
