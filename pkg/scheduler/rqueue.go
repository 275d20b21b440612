package scheduler

import (
	"net/http"
	"sync"
	"time"

	"github.com/adrianbrad/queue"
)

const (
	queueCapacity = 1000
	RetryLimit    = 5
)

// PriorityEntry is one pending request to the panel API. Lower priority values
// are delivered first.
type PriorityEntry struct {
	priority int
	method   string
	url      string
	data     interface{}
	due      time.Time
	expiry   time.Time
	retry    int
}

// RequestQueue buffers outbound panel API requests for the reporters.
type RequestQueue struct {
	queue *queue.Priority[PriorityEntry]
	cond  *sync.Cond
}

// Rqueue is the process-wide request queue, set up by InitRequestQueue.
var Rqueue *RequestQueue

func InitRequestQueue() {
	Rqueue = &RequestQueue{
		queue: queue.NewPriority(
			[]PriorityEntry{},
			func(elem, otherElem PriorityEntry) bool {
				return elem.priority < otherElem.priority
			},
			queue.WithCapacity(queueCapacity),
		),
		cond: sync.NewCond(&sync.Mutex{}),
	}
}

// Post enqueues a POST to the panel API. An entry that cannot be delivered by
// expiry is dropped; the zero time means no expiry.
func (rq *RequestQueue) Post(url string, data interface{}, priority int, expiry time.Time) {
	rq.offer(PriorityEntry{
		priority: priority,
		method:   http.MethodPost,
		url:      url,
		data:     data,
		expiry:   expiry,
		retry:    RetryLimit,
	})
}

// Put enqueues a PUT to the panel API.
func (rq *RequestQueue) Put(url string, data interface{}, priority int, expiry time.Time) {
	rq.offer(PriorityEntry{
		priority: priority,
		method:   http.MethodPut,
		url:      url,
		data:     data,
		expiry:   expiry,
		retry:    RetryLimit,
	})
}

func (rq *RequestQueue) offer(entry PriorityEntry) {
	if err := rq.queue.Offer(entry); err != nil {
		return // queue full; the entry is dropped
	}
	rq.cond.L.Lock()
	rq.cond.Broadcast()
	rq.cond.L.Unlock()
}
