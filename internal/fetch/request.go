package fetch

import (
	"fmt"
	"sync"
)

type State int

const (
	NotStarted State = iota
	Downloading
	OK
	Error
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Downloading:
		return "DOWNLOADING"
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a snapshot of a Request. Body is set only in OK, Err only in
// Error.
type Status struct {
	State State
	Body  []byte
	Err   error
}

func (s Status) Pending() bool { return s.State == NotStarted || s.State == Downloading }

// Request is the handle of one registered fetch. It stays valid for the
// lifetime of the Client that created it, even after eviction from the
// registry.
type Request struct {
	key string
	url string
	// gen is the key's generation at registration, see Client.Forget.
	gen uint64

	mu    sync.Mutex
	state State
	body  []byte
	err   error
	done  chan struct{}
}

func newRequest(url, key string) *Request {
	return &Request{key: key, url: url, done: make(chan struct{})}
}

func (r *Request) Key() string { return r.key }
func (r *Request) URL() string { return r.url }

// Status never blocks.
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{State: r.state, Body: r.body, Err: r.err}
}

// Done is closed once the request reaches OK or Error.
func (r *Request) Done() <-chan struct{} { return r.done }

func (r *Request) start() {
	r.mu.Lock()
	r.state = Downloading
	r.mu.Unlock()
}

func (r *Request) finish(body []byte, err error) {
	r.mu.Lock()
	if err != nil {
		r.state = Error
		r.err = err
	} else {
		r.state = OK
		r.body = body
	}
	r.mu.Unlock()
	close(r.done)
}
