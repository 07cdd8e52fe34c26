package jobstore

// System pairs a Store with its feeding Queue. This is the "C3" unit that
// every other component is handed at construction (per the Design Note on
// injecting a single Runtime value rather than relying on globals).
type System struct {
	Store *Store
	Queue *Queue
}

// NewSystem constructs an empty Store/Queue pair.
func NewSystem() *System {
	return &System{Store: NewStore(), Queue: NewQueue()}
}

// Submit allocates a job id, inserts a new Job with status in_queue into the
// Store, and enqueues it. The job is visible in the store strictly before it
// is placed on the queue, satisfying the ownership invariant.
func (s *System) Submit(agentName, text, strategyName string, dependsOn []string) string {
	id := NewID()
	job := Job{
		ID:           id,
		AgentName:    agentName,
		InitialText:  text,
		StrategyName: strategyName,
		DependsOn:    append([]string(nil), dependsOn...),
		Status:       StatusInQueue,
	}
	s.Store.Insert(job)
	s.Queue.Put(id)
	return id
}
