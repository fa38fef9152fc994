package opt

import "sync"

// DefaultMetricsCapacity is how many finished runs keep their solver metrics
// in process memory.
const DefaultMetricsCapacity = 1024

type key struct {
	Tenant string
	RunID  string
}

// metricsStore is a bounded map; the oldest recorded run is evicted first.
type metricsStore struct {
	mu    sync.Mutex
	limit int
	byKey map[key]Metrics
	order []key
}

func newMetricsStore(capacity int) *metricsStore {
	if capacity < 1 {
		capacity = 1
	}
	return &metricsStore{limit: capacity, byKey: map[key]Metrics{}}
}

func (s *metricsStore) put(k key, m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[k]; !ok {
		s.order = append(s.order, k)
	}
	s.byKey[k] = m
	for len(s.order) > s.limit {
		delete(s.byKey, s.order[0])
		s.order[0] = key{}
		s.order = s.order[1:]
	}
}

func (s *metricsStore) get(k key) (Metrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byKey[k]
	return m, ok
}

var runMetrics = newMetricsStore(DefaultMetricsCapacity)

// RecordMetrics keeps the metrics of a finished run in process memory so
// admin views work without a database. Only the most recent
// DefaultMetricsCapacity runs are retained.
func RecordMetrics(tenant, runID string, m Metrics) {
	runMetrics.put(key{Tenant: tenant, RunID: runID}, m)
}

// GetMetrics returns the recorded metrics of a run, if still retained.
func GetMetrics(tenant, runID string) (Metrics, bool) {
	return runMetrics.get(key{Tenant: tenant, RunID: runID})
}
