package discovery

import (
	"github.com/zeusync/datasync/internal/core/observability/log"
)

const (
	DefaultScanDuration     = 20
	DefaultTimeBetweenScans = 600
)

// Committer receives the peers found by a finished scan.
type Committer interface {
	CommitDiscovered(r Result)
}

type State uint8

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// Scheduler alternates between waiting and scanning, one tick per 100 ms.
// While idle it counts down to the next scan; while scanning it counts down
// to the commit, after which results go to the Committer and the idle
// countdown restarts. Exactly one countdown is active at a time.
type Scheduler struct {
	iface     Interface
	committer Committer
	logger    log.Log

	state            State
	ticksToNextScan  uint32
	ticksToCommit    uint32
	scanDuration     uint32
	timeBetweenScans uint32

	running    bool
	hostname   string
	port       uint16
	groupHash  uint32
	instanceID string
}

type SchedulerOption func(*Scheduler)

func WithScanDuration(ticks uint32) SchedulerOption {
	return func(s *Scheduler) { s.SetScanDuration(ticks) }
}

func WithTimeBetweenScans(ticks uint32) SchedulerOption {
	return func(s *Scheduler) {
		s.SetTimeBetweenScans(ticks)
		s.ticksToNextScan = s.timeBetweenScans
	}
}

func WithLogger(l log.Log) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l.With(log.String("component", "discovery"))
		}
	}
}

func NewScheduler(iface Interface, committer Committer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		iface:            iface,
		committer:        committer,
		logger:           log.Provide().With(log.String("component", "discovery")),
		state:            StateIdle,
		ticksToNextScan:  DefaultTimeBetweenScans,
		scanDuration:     DefaultScanDuration,
		timeBetweenScans: DefaultTimeBetweenScans,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitter replaces the result receiver.
func (s *Scheduler) SetCommitter(c Committer) {
	s.committer = c
}

// Start begins advertising this node. Results carrying instanceID in their
// id record are treated as ourselves and skipped.
func (s *Scheduler) Start(hostname string, groupHash uint32, port uint16, instanceID string) bool {
	s.hostname = hostname
	s.groupHash = groupHash
	s.port = port
	s.instanceID = instanceID

	if s.running {
		return s.restart()
	}
	return s.start()
}

func (s *Scheduler) start() bool {
	service := ServiceName(s.groupHash)

	if !s.iface.Begin(s.hostname) {
		s.logger.Warn("Discovery responder failed to start", log.String("hostname", s.hostname))
		return false
	}
	if !s.iface.Advertise(service, ServiceProtocol, s.port) {
		s.logger.Warn("Failed to advertise service", log.String("service", service))
		return false
	}
	if s.instanceID != "" && !s.iface.SetTextRecord(service, ServiceProtocol, TextKeyID, Sanitize(s.instanceID)) {
		s.logger.Warn("Failed to set text record", log.String("key", TextKeyID))
		return false
	}
	if !s.iface.SetTextRecord(service, ServiceProtocol, TextKeyGroup, GroupText(s.groupHash)) {
		s.logger.Warn("Failed to set text record", log.String("key", TextKeyGroup))
		return false
	}

	s.running = true
	s.logger.Info("Discovery started",
		log.String("service", service),
		log.String("hostname", s.hostname),
		log.Int("port", int(s.port)))
	return true
}

// Stop closes the responder and abandons a scan in progress.
func (s *Scheduler) Stop() bool {
	if s.state == StateScanning {
		s.iface.StopQuery()
		s.state = StateIdle
		s.ticksToNextScan = s.timeBetweenScans
	}
	if !s.iface.Close() {
		return false
	}
	s.running = false
	return true
}

func (s *Scheduler) restart() bool {
	if !s.Stop() {
		return false
	}
	return s.start()
}

// Restart re-advertises under a new group.
func (s *Scheduler) Restart(groupHash uint32) bool {
	s.groupHash = groupHash
	if !s.running {
		return true
	}
	return s.restart()
}

func (s *Scheduler) IsRunning() bool {
	return s.running
}

func (s *Scheduler) State() State {
	return s.state
}

func (s *Scheduler) IsScanning() bool {
	return s.state == StateScanning
}

func (s *Scheduler) ScanDuration() uint32 {
	return s.scanDuration
}

// SetScanDuration changes the scan window. A running scan never lasts longer
// than the new window.
func (s *Scheduler) SetScanDuration(ticks uint32) {
	s.scanDuration = max(ticks, 1)
	s.ticksToCommit = min(s.ticksToCommit, s.scanDuration)
}

func (s *Scheduler) TimeBetweenScans() uint32 {
	return s.timeBetweenScans
}

// SetTimeBetweenScans changes the scan interval. The pending wait never
// exceeds the new interval.
func (s *Scheduler) SetTimeBetweenScans(ticks uint32) {
	s.timeBetweenScans = max(ticks, 1)
	s.ticksToNextScan = min(s.ticksToNextScan, s.timeBetweenScans)
}

// TicksUntilNextScan is 0 while scanning.
func (s *Scheduler) TicksUntilNextScan() uint32 {
	if s.state == StateScanning {
		return 0
	}
	return s.ticksToNextScan
}

// TicksUntilCommit is 0 while idle.
func (s *Scheduler) TicksUntilCommit() uint32 {
	if s.state == StateIdle {
		return 0
	}
	return s.ticksToCommit
}

// ScanNow starts a scan immediately. The idle countdown restarts after it
// commits, as for a scheduled scan.
func (s *Scheduler) ScanNow() {
	if !s.running || s.state == StateScanning {
		return
	}
	s.startScan()
}

func (s *Scheduler) Tick() {
	if !s.running {
		return
	}

	switch s.state {
	case StateScanning:
		if s.ticksToCommit > 1 {
			s.ticksToCommit--
			return
		}
		s.commit()
	default:
		if s.ticksToNextScan > 1 {
			s.ticksToNextScan--
			return
		}
		s.startScan()
	}
}

func (s *Scheduler) startScan() {
	service := ServiceName(s.groupHash)
	s.iface.Query(service, ServiceProtocol, func() {})
	s.state = StateScanning
	s.ticksToCommit = s.scanDuration
	s.ticksToNextScan = 0
	s.logger.Debug("Scan started", log.String("service", service))
}

func (s *Scheduler) commit() {
	results := s.iface.Results()
	s.iface.StopQuery()

	s.state = StateIdle
	s.ticksToCommit = 0
	s.ticksToNextScan = s.timeBetweenScans

	committed := 0
	for _, r := range results {
		if s.isSelf(r) || !s.isSameGroup(r) {
			continue
		}
		if s.committer != nil {
			s.committer.CommitDiscovered(r)
		}
		committed++
	}
	s.logger.Debug("Scan committed", log.Int("answers", len(results)), log.Int("peers", committed))
}

func (s *Scheduler) isSelf(r Result) bool {
	return s.instanceID != "" && r.Records[TextKeyID] == Sanitize(s.instanceID)
}

func (s *Scheduler) isSameGroup(r Result) bool {
	group, ok := r.Records[TextKeyGroup]
	return !ok || group == GroupText(s.groupHash)
}
