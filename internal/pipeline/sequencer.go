package pipeline

import "sync"

// sequencer runs jobs strictly in submission order per key, while jobs for
// different keys run in parallel. Each active key gets one worker goroutine
// that drains its queue and exits when empty; this is the per-conversation
// serialization the ordering guarantee requires, without a global lock.
type sequencer struct {
	mu     sync.Mutex
	queues map[string]*queue
	wg     sync.WaitGroup
}

type queue struct {
	jobs []func()
}

func newSequencer() *sequencer {
	return &sequencer{queues: make(map[string]*queue)}
}

// do enqueues the job for the key. Jobs enqueued for the same key are
// executed one at a time, in enqueue order.
func (s *sequencer) do(key string, job func()) {
	s.mu.Lock()
	q, running := s.queues[key]
	if !running {
		q = &queue{}
		s.queues[key] = q
	}
	q.jobs = append(q.jobs, job)
	s.mu.Unlock()

	if !running {
		s.wg.Add(1)
		go s.drain(key, q)
	}
}

func (s *sequencer) drain(key string, q *queue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.jobs) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		s.mu.Unlock()

		job()
	}
}

// wait blocks until every queued job has finished. Used for shutdown and
// tests.
func (s *sequencer) wait() {
	s.wg.Wait()
}
