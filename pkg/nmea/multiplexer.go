package nmea

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

const unbreakDelay = 5 * time.Second

// LocationFunc receives each multiplexed fix.
type LocationFunc func(geo.LocationValue)

// AccuracyFunc receives the recomputed available-accuracy-level.
type AccuracyFunc func(geo.AccuracyLevel)

// Multiplexer holds a try list and a broken list of discovered
// services, keeps a single active connection to the head of the try
// list, and reconnects whenever the head changes or the connection
// breaks.
type Multiplexer struct {
	logger *logx.Logger

	onLocation  LocationFunc
	onAccuracy  AccuracyFunc
	onReconnect func()

	mu      sync.Mutex
	try     []geo.AvahiService
	broken  []geo.AvahiService
	active  string // Identifier of the service currently connected, or ""
	cancel  context.CancelFunc
	unbreak *time.Timer

	running  bool
	discover *Discovery
}

// New creates a Multiplexer in the stopped state.
func New(logger *logx.Logger, onLocation LocationFunc, onAccuracy AccuracyFunc) *Multiplexer {
	return &Multiplexer{logger: logger, onLocation: onLocation, onAccuracy: onAccuracy}
}

// SetReconnectHook registers a callback fired every time the
// multiplexer dials a new connection attempt, e.g. wired to a
// pkg/metrics reconnect counter.
func (m *Multiplexer) SetReconnectHook(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = fn
}

// Start begins reconnection management. socketPath, if non-empty, is
// inserted immediately as a permanent entry with accuracy EXACT.
func (m *Multiplexer) Start(socketPath string) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	if socketPath != "" {
		m.AddService(geo.AvahiService{
			Identifier:   "unix:" + socketPath,
			Endpoint:     socketPath,
			IsSocket:     true,
			Accuracy:     geo.AccuracyExact,
			TimestampAdd: time.Now(),
		})
	}
}

// StartMDNS additionally browses for mDNS-advertised providers via
// Avahi and wires discoveries/removals into the try/broken lists.
func (m *Multiplexer) StartMDNS() error {
	d, err := NewDiscovery(m.logger, m.AddService, m.RemoveService)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.discover = d
	m.mu.Unlock()
	return nil
}

// Stop tears down the active connection and stops reconnecting.
func (m *Multiplexer) Stop() {
	m.mu.Lock()
	m.running = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.unbreak != nil {
		m.unbreak.Stop()
		m.unbreak = nil
	}
	if m.discover != nil {
		m.discover.Close()
		m.discover = nil
	}
	m.active = ""
	m.mu.Unlock()
}

// AddService inserts a newly discovered service, deduplicated by
// Identifier, and reconnects if the try-list head changed.
func (m *Multiplexer) AddService(svc geo.AvahiService) {
	m.mu.Lock()
	for _, s := range m.try {
		if s.Identifier == svc.Identifier {
			m.mu.Unlock()
			return
		}
	}
	for _, s := range m.broken {
		if s.Identifier == svc.Identifier {
			m.mu.Unlock()
			return
		}
	}
	m.try = append(m.try, svc)
	sortServices(m.try)
	m.publishAccuracyLocked()
	m.mu.Unlock()

	m.reconnectIfNeeded()
}

// RemoveService removes a service by identifier, reconnecting if it was
// the active one.
func (m *Multiplexer) RemoveService(identifier string) {
	m.mu.Lock()
	m.try = removeByID(m.try, identifier)
	m.broken = removeByID(m.broken, identifier)
	wasActive := m.active == identifier
	m.publishAccuracyLocked()
	m.mu.Unlock()

	if wasActive {
		m.reconnectIfNeeded()
	}
}

func removeByID(list []geo.AvahiService, id string) []geo.AvahiService {
	out := list[:0]
	for _, s := range list {
		if s.Identifier != id {
			out = append(out, s)
		}
	}
	return out
}

func sortServices(list []geo.AvahiService) {
	sort.Slice(list, func(i, j int) bool { return list[i].Less(list[j]) })
}

func (m *Multiplexer) publishAccuracyLocked() {
	best := geo.AccuracyNone
	if len(m.try) > 0 && m.try[0].Accuracy > best {
		best = m.try[0].Accuracy
	}
	if len(m.broken) > 0 && m.broken[0].Accuracy > best {
		best = m.broken[0].Accuracy
	}
	if m.onAccuracy != nil {
		go m.onAccuracy(best)
	}
	m.armUnbreakLocked()
}

func (m *Multiplexer) armUnbreakLocked() {
	if len(m.try) == 0 && len(m.broken) > 0 {
		if m.unbreak == nil {
			m.unbreak = time.AfterFunc(unbreakDelay, m.unbreakFire)
		}
	} else if m.unbreak != nil {
		m.unbreak.Stop()
		m.unbreak = nil
	}
}

func (m *Multiplexer) unbreakFire() {
	m.mu.Lock()
	m.unbreak = nil
	m.try, m.broken = m.broken, m.try[:0]
	m.mu.Unlock()
	m.reconnectIfNeeded()
}

// reconnectIfNeeded disconnects and reconnects whenever the active
// service is no longer the head of try_services.
func (m *Multiplexer) reconnectIfNeeded() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	var head geo.AvahiService
	haveHead := len(m.try) > 0
	if haveHead {
		head = m.try[0]
	}
	if haveHead && m.active == head.Identifier {
		m.mu.Unlock()
		return
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.active = ""
	if !haveHead {
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.active = head.Identifier
	onReconnect := m.onReconnect
	m.mu.Unlock()

	if onReconnect != nil {
		onReconnect()
	}
	go m.connect(ctx, head)
}

func (m *Multiplexer) connect(ctx context.Context, svc geo.AvahiService) {
	var conn net.Conn
	var err error
	if svc.IsSocket {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "unix", svc.Endpoint)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", svc.Endpoint)
	}
	if err != nil {
		m.logger.Debug("nmea connect failed", "service", svc.Identifier, "error", err.Error())
		m.markBroken(svc.Identifier)
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	m.readLoop(ctx, conn, svc.Identifier)
}

// readLoop scans \r\n-delimited chunks, recognizes GGA/RMC, and after
// each one merges the most recent GGA and RMC seen on this connection
// into one LocationValue. Retained sentences are not reset between
// reads, so a GGA from an earlier read can be merged with a later RMC.
func (m *Multiplexer) readLoop(ctx context.Context, conn net.Conn, identifier string) {
	scanner := bufio.NewScanner(conn)
	scanner.Split(scanLines)

	var lastGGA, lastRMC geo.LocationValue
	var haveGGA, haveRMC bool

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue // empty read: no-op
		}
		if !ChecksumValid(line) {
			continue
		}

		switch {
		case HasType(line, TypeGGA):
			if loc, ok := ParseGGA(line); ok {
				lastGGA, haveGGA = loc, true
			}
		case HasType(line, TypeRMC):
			if loc, ok := ParseRMC(line); ok {
				lastRMC, haveRMC = loc, true
			}
		default:
			continue
		}

		if haveGGA || haveRMC {
			merged := Merge(lastGGA, lastRMC, haveGGA, haveRMC)
			if m.onLocation != nil {
				m.onLocation(merged)
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	m.logger.Debug("nmea stream closed", "service", identifier)
	m.markBroken(identifier)
}

func (m *Multiplexer) markBroken(identifier string) {
	m.mu.Lock()
	var found geo.AvahiService
	ok := false
	for _, s := range m.try {
		if s.Identifier == identifier {
			found, ok = s, true
			break
		}
	}
	if ok {
		m.try = removeByID(m.try, identifier)
		m.broken = append(m.broken, found)
		sortServices(m.broken)
	}
	if m.active == identifier {
		m.active = ""
	}
	m.publishAccuracyLocked()
	m.mu.Unlock()

	m.reconnectIfNeeded()
}

// scanLines is a bufio.SplitFunc that splits on \r\n, tolerating bare
// \n as a fallback for providers that don't send the full CRLF.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\r\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
