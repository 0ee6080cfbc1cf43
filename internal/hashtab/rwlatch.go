package hashtab

import "sync/atomic"

// rwLatch coordinates the non-monotonic bucket's readers with its
// single writer. Readers announce themselves by incrementing pending
// and retract by incrementing departing; the two counters are
// cumulative, so the bucket is reader-free exactly when they are
// equal. The writer publishes writerWaiting, then waits for the
// counters to equalize; readers arriving while a writer is waiting
// retract immediately and park on the release latch.
type rwLatch struct {
	pending         atomic.Int32
	departing       atomic.Int32
	writerWaiting   atomic.Bool
	releaseNReaders atomic.Uint32
	releaseWriter   atomic.Bool
	removeLock      spinMutex
}

// readerLock enters the bucket as a reader. Returns once no writer is
// inside the bucket.
func (l *rwLatch) readerLock() {
	for {
		l.pending.Add(1)
		if !l.writerWaiting.Load() {
			return
		}
		// A writer latched between our increment and the check.
		// Retract so the writer's drain condition can hold, then
		// wait for the reader release.
		d := l.departing.Add(1)
		if d == l.pending.Load() {
			l.releaseWriter.Store(true)
		}
		gen := l.releaseNReaders.Load()
		for l.writerWaiting.Load() && l.releaseNReaders.Load() == gen {
			yield()
		}
	}
}

// readerUnlock leaves the bucket and, if a writer is draining and this
// was the last in-flight reader, signals it.
func (l *rwLatch) readerUnlock() {
	d := l.departing.Add(1)
	if l.writerWaiting.Load() && d == l.pending.Load() {
		l.releaseWriter.Store(true)
	}
}

// writerLock acquires exclusive access: take the remove lock, publish
// the waiting flag, and drain in-flight readers.
func (l *rwLatch) writerLock() {
	l.removeLock.Lock()
	l.releaseWriter.Store(false)
	l.writerWaiting.Store(true)
	for {
		if l.releaseWriter.Load() || l.departing.Load() == l.pending.Load() {
			return
		}
		yield()
	}
}

// writerUnlock clears the waiting flag, wakes all parked readers, and
// releases the remove lock.
func (l *rwLatch) writerUnlock() {
	l.writerWaiting.Store(false)
	l.releaseNReaders.Add(1)
	l.removeLock.Unlock()
}
