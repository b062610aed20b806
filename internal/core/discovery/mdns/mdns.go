// Package mdns implements discovery.Interface with multicast DNS-SD using
// github.com/hashicorp/mdns.
package mdns

import (
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/zeusync/datasync/internal/core/discovery"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
)

type Config struct {
	Domain string
	// IPs are the addresses announced for our services. Empty means every
	// non-loopback IPv4 address of this host.
	IPs []net.IP
	// QueryTimeout is how long each multicast query listens for answers.
	// Queries repeat until StopQuery.
	QueryTimeout time.Duration
	Interface    *net.Interface
}

func DefaultConfig() *Config {
	return &Config{
		Domain:       "local",
		QueryTimeout: time.Second,
	}
}

type serviceKey struct {
	name     string
	protocol string
}

type advertised struct {
	port    uint16
	records map[string]string
	server  *mdns.Server
}

type Responder struct {
	config *Config
	logger log.Log

	mu       sync.Mutex
	hostname string
	begun    bool
	services map[serviceKey]*advertised

	generation uint64
	stop       chan struct{}
	results    map[string]discovery.Result
}

var _ discovery.Interface = (*Responder)(nil)

func New(config *Config, logger log.Log) *Responder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Domain == "" {
		config.Domain = "local"
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = time.Second
	}
	return &Responder{
		config:   config,
		logger:   log.OrDefault(logger).With(log.String("component", "mdns")),
		services: make(map[serviceKey]*advertised),
		results:  make(map[string]discovery.Result),
	}
}

// ServiceType is the DNS-SD service type for a service name, "_name._proto".
func ServiceType(name, proto string) string {
	return fmt.Sprintf("_%s._%s", name, proto)
}

func (r *Responder) Begin(hostname string) bool {
	hostname = strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	if hostname == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostname = hostname
	r.begun = true
	return true
}

func (r *Responder) Advertise(name, proto string, port uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.begun {
		return false
	}

	key := serviceKey{name, proto}
	if old, ok := r.services[key]; ok && old.server != nil {
		_ = old.server.Shutdown()
	}
	svc := &advertised{port: port, records: make(map[string]string)}
	if err := r.serveLocked(key, svc); err != nil {
		r.logger.Warn("Failed to advertise service", log.String("service", name), log.Error(err))
		return false
	}
	r.services[key] = svc
	return true
}

// SetTextRecord re-announces the service with the added record.
func (r *Responder) SetTextRecord(name, proto, k, v string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := serviceKey{name, proto}
	svc, ok := r.services[key]
	if !ok {
		return false
	}
	svc.records[k] = v
	if svc.server != nil {
		_ = svc.server.Shutdown()
		svc.server = nil
	}
	if err := r.serveLocked(key, svc); err != nil {
		r.logger.Warn("Failed to update text record", log.String("service", name), log.String("key", k), log.Error(err))
		return false
	}
	return true
}

func (r *Responder) serveLocked(key serviceKey, svc *advertised) error {
	ips := r.config.IPs
	if len(ips) == 0 {
		ips = localIPs()
	}

	txt := make([]string, 0, len(svc.records))
	for _, k := range slices.Sorted(maps.Keys(svc.records)) {
		txt = append(txt, k+"="+svc.records[k])
	}

	zone, err := mdns.NewMDNSService(
		r.hostname,
		ServiceType(key.name, key.protocol),
		r.config.Domain+".",
		fmt.Sprintf("%s.%s.", r.hostname, r.config.Domain),
		int(svc.port),
		ips,
		txt,
	)
	if err != nil {
		return err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: zone, Iface: r.config.Interface})
	if err != nil {
		return err
	}
	svc.server = server
	return nil
}

// Query browses for the service until StopQuery. onReady runs on a
// background goroutine each time a new answer arrives.
func (r *Responder) Query(name, proto string, onReady func()) {
	r.mu.Lock()
	r.stopQueryLocked()
	r.generation++
	gen := r.generation
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	entries := make(chan *mdns.ServiceEntry, 32)
	params := &mdns.QueryParam{
		Service:     ServiceType(name, proto),
		Domain:      r.config.Domain,
		Timeout:     r.config.QueryTimeout,
		Interface:   r.config.Interface,
		Entries:     entries,
		DisableIPv6: true,
	}

	go func() {
		for {
			wait := time.Duration(0)
			if err := mdns.Query(params); err != nil {
				r.logger.Debug("mDNS query failed", log.String("service", params.Service), log.Error(err))
				wait = r.config.QueryTimeout
			}
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
		}
	}()

	go func() {
		for {
			select {
			case <-stop:
				return
			case entry := <-entries:
				res, ok := entryToResult(entry)
				if !ok {
					continue
				}
				r.mu.Lock()
				if r.generation != gen {
					r.mu.Unlock()
					return
				}
				r.results[entry.Name] = res
				r.mu.Unlock()
				if onReady != nil {
					onReady()
				}
			}
		}
	}()
}

func entryToResult(e *mdns.ServiceEntry) (discovery.Result, bool) {
	if e == nil || e.Port <= 0 || e.Port > 0xFFFF {
		return discovery.Result{}, false
	}
	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	ep, ok := protocol.EndpointFromUDPAddr(&net.UDPAddr{IP: ip, Port: e.Port})
	if !ok {
		return discovery.Result{}, false
	}

	fields := e.InfoFields
	if len(fields) == 0 && e.Info != "" {
		fields = strings.Split(e.Info, "|")
	}
	records := discovery.ParseText(fields...)

	host := strings.TrimSuffix(e.Host, ".")
	host = strings.TrimSuffix(host, ".local")

	return discovery.Result{
		Endpoint: ep,
		Hostname: host,
		Text:     discovery.FormatText(records),
		Records:  records,
	}, true
}

func (r *Responder) Results() []discovery.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]discovery.Result, 0, len(r.results))
	for _, res := range r.results {
		out = append(out, res)
	}
	return out
}

func (r *Responder) StopQuery() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopQueryLocked()
}

func (r *Responder) stopQueryLocked() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.generation++
	clear(r.results)
}

func (r *Responder) Close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopQueryLocked()

	ok := true
	for key, svc := range r.services {
		if svc.server != nil {
			if err := svc.server.Shutdown(); err != nil {
				r.logger.Warn("Failed to shut down mDNS server", log.String("service", key.name), log.Error(err))
				ok = false
			}
		}
	}
	clear(r.services)
	r.begun = false
	return ok
}

func localIPs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			ips = append(ips, v4)
		}
	}
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4(127, 0, 0, 1)}
	}
	return ips
}
