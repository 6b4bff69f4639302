package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

// DefaultListenAddr is used when Config.Listen is empty.
const DefaultListenAddr = "0.0.0.0:53"

// Config holds DNS server configuration
type Config struct {
	Listen   []string // host:port pairs
	Networks []string // "udp", "tcp" (default: both)
	Workers  int      // I/O threads (default: 1)
}

// Server is the authoritative DNS server. Queries are handed to a fixed
// pool of workers, each initialized once through the plugin runtime as an
// I/O thread before the server reports itself running.
type Server struct {
	resolver *Resolver
	rt       Runtime
	cfg      Config
	logger   zerolog.Logger

	jobsMu  sync.RWMutex
	jobs    chan *job
	workers sync.WaitGroup

	mu      sync.RWMutex
	servers []*dns.Server
	running bool
}

type job struct {
	req    *dns.Msg
	client netip.Addr
	resp   *dns.Msg
	done   chan struct{}
}

var jobPool = sync.Pool{
	New: func() any { return &job{done: make(chan struct{}, 1)} },
}

// NewServer creates a DNS server answering from resolver.
func NewServer(resolver *Resolver, cfg Config) *Server {
	if len(cfg.Listen) == 0 {
		cfg.Listen = []string{DefaultListenAddr}
	}
	if len(cfg.Networks) == 0 {
		cfg.Networks = []string{"udp", "tcp"}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Server{
		resolver: resolver,
		rt:       resolver.rt,
		cfg:      cfg,
		logger:   log.WithComponent("dns"),
	}
}

// Start initializes the workers, marks the runtime running and opens every
// listener. It returns once all listeners are up.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("DNS server already running")
	}

	if err := s.startWorkers(); err != nil {
		return err
	}
	if err := s.rt.MarkRunning(); err != nil {
		s.stopWorkers()
		return fmt.Errorf("failed to mark runtime running: %w", err)
	}

	for _, addr := range s.cfg.Listen {
		for _, network := range s.cfg.Networks {
			srv, err := s.listen(ctx, addr, network)
			if err != nil {
				_ = s.shutdownLocked(context.Background())
				return err
			}
			s.servers = append(s.servers, srv)
		}
	}

	s.running = true
	s.logger.Info().
		Strs("listen", s.cfg.Listen).
		Strs("networks", s.cfg.Networks).
		Int("workers", s.cfg.Workers).
		Msg("DNS server started")
	return nil
}

func (s *Server) startWorkers() error {
	jobs := make(chan *job, s.cfg.Workers*64)
	errCh := make(chan error, s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		s.workers.Add(1)
		go s.work(i, jobs, errCh)
	}
	s.jobsMu.Lock()
	s.jobs = jobs
	s.jobsMu.Unlock()

	var errs []error
	for i := 0; i < s.cfg.Workers; i++ {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.stopWorkers()
		return fmt.Errorf("failed to initialize DNS workers: %w", err)
	}
	return nil
}

// work is one I/O thread. It reports its init result on ready, then serves
// jobs until the queue closes.
func (s *Server) work(thread int, jobs <-chan *job, ready chan<- error) {
	defer s.workers.Done()
	if err := s.rt.IOThreadInit(thread); err != nil {
		ready <- err
		for j := range jobs {
			j.resp = servfail(j.req)
			j.done <- struct{}{}
		}
		return
	}
	w := s.resolver.NewWorker(thread)
	ready <- nil
	for j := range jobs {
		j.resp = w.Answer(j.req, j.client)
		j.done <- struct{}{}
	}
}

func (s *Server) stopWorkers() {
	s.jobsMu.Lock()
	jobs := s.jobs
	s.jobs = nil
	s.jobsMu.Unlock()
	if jobs != nil {
		close(jobs)
		s.workers.Wait()
	}
}

func (s *Server) listen(ctx context.Context, addr, network string) (*dns.Server, error) {
	started := make(chan struct{})
	srv := &dns.Server{
		Addr:              addr,
		Net:               network,
		Handler:           s,
		NotifyStartedFunc: func() { close(started) },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			s.logger.Error().
				Err(err).
				Str("address", addr).
				Str("network", network).
				Msg("DNS listener error")
			errCh <- err
		}
	}()

	select {
	case <-started:
		return srv, nil
	case err := <-errCh:
		return nil, fmt.Errorf("failed to listen on %s/%s: %w", addr, network, err)
	case <-ctx.Done():
		_ = srv.Shutdown()
		return nil, ctx.Err()
	}
}

// Stop closes the listeners and drains the workers.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	err := s.shutdownLocked(ctx)
	s.running = false
	s.logger.Info().Msg("DNS server stopped")
	return err
}

func servfail(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, dns.RcodeServerFailure)
	return m
}

func (s *Server) shutdownLocked(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		if err := srv.ShutdownContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.servers = nil
	s.stopWorkers()
	return errors.Join(errs...)
}

// Addrs returns the bound address of every listener.
func (s *Server) Addrs() []net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []net.Addr
	for _, srv := range s.servers {
		switch {
		case srv.PacketConn != nil:
			out = append(out, srv.PacketConn.LocalAddr())
		case srv.Listener != nil:
			out = append(out, srv.Listener.Addr())
		}
	}
	return out
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ServeDNS hands the query to a worker and writes its answer.
func (s *Server) ServeDNS(rw dns.ResponseWriter, req *dns.Msg) {
	start := time.Now()

	j := jobPool.Get().(*job)
	j.req = req
	j.client = remoteAddr(rw.RemoteAddr())

	s.jobsMu.RLock()
	jobs := s.jobs
	if jobs != nil {
		jobs <- j
	}
	s.jobsMu.RUnlock()

	var resp *dns.Msg
	if jobs == nil {
		resp = servfail(req)
	} else {
		<-j.done
		resp = j.resp
	}
	j.req, j.resp = nil, nil
	jobPool.Put(j)

	if isUDP(rw.RemoteAddr()) {
		resp.Truncate(udpSize(req))
	}
	if err := rw.WriteMsg(resp); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write DNS response")
	}

	qtype := "none"
	if len(req.Question) > 0 {
		qtype = dns.TypeToString[req.Question[0].Qtype]
	}
	metrics.QueriesTotal.WithLabelValues(qtype, dns.RcodeToString[resp.Rcode]).Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
}

func remoteAddr(a net.Addr) netip.Addr {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.AddrPort().Addr().Unmap()
	case *net.TCPAddr:
		return v.AddrPort().Addr().Unmap()
	}
	if a == nil {
		return netip.Addr{}
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}

func isUDP(a net.Addr) bool {
	_, ok := a.(*net.UDPAddr)
	return ok
}

func udpSize(req *dns.Msg) int {
	if opt := req.IsEdns0(); opt != nil && opt.UDPSize() > dns.MinMsgSize {
		return int(opt.UDPSize())
	}
	return dns.MinMsgSize
}
