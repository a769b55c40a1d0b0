package scheduler

// laneState is the scheduler's private bookkeeping for one lane key.
// activeCount is 0 or 1: lanes are strictly serialized, so at most one
// task per lane ever runs concurrently.
type laneState struct {
	key         string
	queue       []*Task
	activeCount int
}

func (l *laneState) idle() bool {
	return l.activeCount == 0 && len(l.queue) == 0
}

// removeQueued deletes task from the lane's queue if still present,
// reporting whether it was found. Used when a queue-wait deadline fires
// before the task reached the head of its lane.
func (l *laneState) removeQueued(task *Task) bool {
	for i, t := range l.queue {
		if t == task {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return true
		}
	}
	return false
}
