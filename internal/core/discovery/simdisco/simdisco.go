// Package simdisco is an in-memory service directory. Every Responder
// attached to a Directory sees the services advertised by all others, which
// lets discovery run without multicast sockets.
package simdisco

import (
	"maps"
	"sync"

	"github.com/zeusync/datasync/internal/core/discovery"
	"github.com/zeusync/datasync/internal/core/protocol"
)

type serviceKey struct {
	name     string
	protocol string
}

type service struct {
	port    uint16
	records map[string]string
}

type Directory struct {
	mu         sync.Mutex
	responders map[protocol.Endpoint]*Responder
}

func NewDirectory() *Directory {
	return &Directory{responders: make(map[protocol.Endpoint]*Responder)}
}

// Attach returns the responder for a host. Its address becomes the address of
// every service it advertises.
func (d *Directory) Attach(host protocol.Endpoint) *Responder {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.responders[host]; ok {
		return r
	}
	r := &Responder{dir: d, host: host, services: make(map[serviceKey]*service)}
	d.responders[host] = r
	return r
}

type Responder struct {
	dir  *Directory
	host protocol.Endpoint

	hostname string
	begun    bool
	services map[serviceKey]*service

	querying bool
	results  []discovery.Result

	Begins  int
	Closes  int
	Queries int
}

var _ discovery.Interface = (*Responder)(nil)

func (r *Responder) Begin(hostname string) bool {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	r.hostname = hostname
	r.begun = true
	r.Begins++
	return true
}

func (r *Responder) Advertise(name, proto string, port uint16) bool {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	if !r.begun {
		return false
	}
	r.services[serviceKey{name, proto}] = &service{port: port, records: make(map[string]string)}
	return true
}

func (r *Responder) SetTextRecord(name, proto, key, value string) bool {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	svc, ok := r.services[serviceKey{name, proto}]
	if !ok {
		return false
	}
	svc.records[key] = value
	return true
}

// Query answers synchronously from the current directory contents.
func (r *Responder) Query(name, proto string, onReady func()) {
	r.dir.mu.Lock()
	key := serviceKey{name, proto}
	var results []discovery.Result
	for _, other := range r.dir.responders {
		if !other.begun {
			continue
		}
		svc, ok := other.services[key]
		if !ok {
			continue
		}
		results = append(results, discovery.Result{
			Endpoint: protocol.NewEndpoint(other.host.Addr, svc.port),
			Hostname: other.hostname,
			Text:     discovery.FormatText(svc.records),
			Records:  maps.Clone(svc.records),
		})
	}
	r.querying = true
	r.results = results
	r.Queries++
	r.dir.mu.Unlock()

	if onReady != nil {
		onReady()
	}
}

func (r *Responder) Results() []discovery.Result {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	return append([]discovery.Result(nil), r.results...)
}

func (r *Responder) StopQuery() {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	r.querying = false
	r.results = nil
}

func (r *Responder) IsQuerying() bool {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	return r.querying
}

func (r *Responder) Close() bool {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	r.begun = false
	r.services = make(map[serviceKey]*service)
	r.Closes++
	return true
}
