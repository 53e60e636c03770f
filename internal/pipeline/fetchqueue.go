package pipeline

import "subwatch/internal/model"

// FetchQueue holds submissions waiting for their data to be fetched. Items
// being refreshed are always taken before new ones. It is not safe for
// concurrent use; WaitPool guards it.
type FetchQueue struct {
	fresh   []model.SubmissionID
	refresh []model.SubmissionID
	counter *RefreshCounter
}

// NewFetchQueue returns an empty queue that limits refreshes with counter.
func NewFetchQueue(counter *RefreshCounter) *FetchQueue {
	return &FetchQueue{counter: counter}
}

// PutNew enqueues a newly discovered submission.
func (q *FetchQueue) PutNew(id model.SubmissionID) {
	q.fresh = append(q.fresh, id)
}

// PutRefresh enqueues a submission for another attempt. It returns
// ErrTooManyRefresh without enqueuing when the refresh limit is exhausted.
func (q *FetchQueue) PutRefresh(id model.SubmissionID) error {
	if err := q.counter.Add(id); err != nil {
		return err
	}
	q.refresh = append(q.refresh, id)
	return nil
}

// GetNowait dequeues the next submission or returns ErrEmpty.
func (q *FetchQueue) GetNowait() (model.SubmissionID, error) {
	if len(q.refresh) > 0 {
		id := q.refresh[0]
		q.refresh = q.refresh[1:]
		return id, nil
	}
	if len(q.fresh) > 0 {
		id := q.fresh[0]
		q.fresh = q.fresh[1:]
		return id, nil
	}
	return model.SubmissionID{}, ErrEmpty
}

// Len returns the number of queued submissions.
func (q *FetchQueue) Len() int {
	return len(q.fresh) + len(q.refresh)
}
