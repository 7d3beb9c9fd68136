// Package reliable layers acknowledgment and retransmission over datagrams.
//
// A Supervisor is owned by exactly one goroutine, which runs a single timer
// against Next() and feeds acknowledgments into Received().
package reliable

import (
	"errors"
	"time"
)

const historyLen = 10

// rttMultiplier pads the mean sample so a packet is not resent before its
// acknowledgment could plausibly arrive.
const rttMultiplier = 1.2

var (
	ErrUnknownID  = errors.New("reliable: no pending record for id")
	ErrEvicted    = errors.New("reliable: resend ceiling reached, record evicted")
	ErrWindowFull = errors.New("reliable: every sequence id is pending")
)

// Config tunes the timing model.
type Config struct {
	InitialRTT time.Duration
	MinRTT     time.Duration
	MaxRTT     time.Duration
	// MaxResends evicts a record once it has been resent this many times.
	// Zero keeps resending until acknowledged.
	MaxResends int
}

func DefaultConfig() Config {
	return Config{
		InitialRTT: 200 * time.Millisecond,
		MinRTT:     10 * time.Millisecond,
		MaxRTT:     3 * time.Second,
		MaxResends: 30,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.InitialRTT <= 0 {
		c.InitialRTT = d.InitialRTT
	}
	if c.MinRTT <= 0 {
		c.MinRTT = d.MinRTT
	}
	if c.MaxRTT <= 0 {
		c.MaxRTT = d.MaxRTT
	}
	if c.MaxRTT < c.MinRTT {
		c.MaxRTT = c.MinRTT
	}
	if c.MaxResends < 0 {
		c.MaxResends = 0
	}
	return c
}

// Envelope is what the owner transmits.
type Envelope struct {
	ID      uint16
	Resend  uint8
	Payload []byte
}

type pending struct {
	sentAt   time.Time
	deadline time.Time
	resends  int
	payload  []byte
}

type Supervisor struct {
	cfg Config
	now func() time.Time

	nextID  uint16
	pending map[uint16]*pending

	history [historyLen]time.Duration
	samples int
	rtt     time.Duration

	earliestID uint16
	earliest   time.Time
	armed      bool
}

func New(cfg Config) *Supervisor {
	return NewWithClock(cfg, time.Now)
}

func NewWithClock(cfg Config, now func() time.Time) *Supervisor {
	cfg = cfg.WithDefaults()
	return &Supervisor{
		cfg:     cfg,
		now:     now,
		pending: make(map[uint16]*pending),
		rtt:     clamp(cfg.InitialRTT, cfg.MinRTT, cfg.MaxRTT),
	}
}

// Send allocates the next free sequence id and records payload as pending.
func (s *Supervisor) Send(payload []byte) (Envelope, error) {
	if len(s.pending) > 0xFFFF {
		return Envelope{}, ErrWindowFull
	}
	id := s.nextID
	for {
		if _, busy := s.pending[id]; !busy {
			break
		}
		id++
	}
	s.nextID = id + 1

	now := s.now()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	p := &pending{
		sentAt:   now,
		deadline: now.Add(s.rtt),
		payload:  buf,
	}
	s.pending[id] = p
	if !s.armed || p.deadline.Before(s.earliest) {
		s.earliestID = id
		s.earliest = p.deadline
		s.armed = true
	}
	return Envelope{ID: id, Payload: buf}, nil
}

// Received acknowledges id. It reports false, and changes nothing, when no
// record is pending for id.
func (s *Supervisor) Received(id uint16) bool {
	p, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	s.observe(s.now().Sub(p.sentAt))
	s.rescan()
	return true
}

// Resend re-arms the record for id and returns a fresh envelope carrying the
// same payload with the incremented counter.
func (s *Supervisor) Resend(id uint16) (Envelope, error) {
	p, ok := s.pending[id]
	if !ok {
		return Envelope{}, ErrUnknownID
	}
	if s.cfg.MaxResends > 0 && p.resends >= s.cfg.MaxResends {
		delete(s.pending, id)
		s.rescan()
		return Envelope{}, ErrEvicted
	}
	p.resends++
	now := s.now()
	p.sentAt = now
	p.deadline = now.Add(s.rtt)
	s.rescan()
	return Envelope{ID: id, Resend: counter(p.resends), Payload: p.payload}, nil
}

// Next returns the single earliest pending deadline.
func (s *Supervisor) Next() (uint16, time.Time, bool) {
	return s.earliestID, s.earliest, s.armed
}

// RTT is the current round-trip estimate used for new deadlines.
func (s *Supervisor) RTT() time.Duration {
	return s.rtt
}

func (s *Supervisor) Pending() int {
	return len(s.pending)
}

func (s *Supervisor) observe(sample time.Duration) {
	if sample < 0 {
		sample = 0
	}
	s.history[s.samples%historyLen] = sample
	s.samples++
	n := s.samples
	if n > historyLen {
		n = historyLen
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += s.history[i]
	}
	mean := sum / time.Duration(n)
	s.rtt = clamp(time.Duration(float64(mean)*rttMultiplier), s.cfg.MinRTT, s.cfg.MaxRTT)
}

func (s *Supervisor) rescan() {
	s.armed = false
	for id, p := range s.pending {
		if !s.armed || p.deadline.Before(s.earliest) {
			s.earliestID = id
			s.earliest = p.deadline
			s.armed = true
		}
	}
}

func counter(n int) uint8 {
	if n > 0xFF {
		return 0xFF
	}
	return uint8(n)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
