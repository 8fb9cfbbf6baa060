// Package service implements the launcher's event loop: it owns the
// frontend pipes, the plugin registry, the worker table, and the current
// search session, and routes every request and response between them.
package service

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pop-os/launcher/internal/codec"
	"github.com/pop-os/launcher/internal/protocol"
	"github.com/pop-os/launcher/internal/registry"
	"github.com/pop-os/launcher/internal/session"
	"github.com/pop-os/launcher/internal/worker"
)

// shutdownGrace bounds how long Exit waits for plugins to leave on their
// own before they are killed.
const shutdownGrace = 2 * time.Second

// connector pairs a worker with its dispatch bookkeeping. gens is the FIFO
// of search generations written to the worker's stdin and not yet closed by
// a Finished; it attributes interleaved plugin output to the generation
// observed at dispatch time.
type connector struct {
	worker *worker.Worker
	gens   []uint64
}

type refKey struct {
	plugin int
	local  protocol.Indice
}

// Service is the top-level launcher state. All fields are owned by the Run
// loop goroutine; reader goroutines communicate through channels only.
type Service struct {
	log hclog.Logger
	reg *registry.Registry
	out *codec.Encoder

	conns       []*connector
	deactivated map[int]struct{}
	events      chan worker.Event

	generation uint64
	session    *session.Session

	// Mapping from the last emitted Update, valid until the next
	// generation begins.
	refs  []session.Ref
	assoc map[refKey]protocol.Indice
}

// New creates a service over a loaded registry, writing frontend responses
// to out.
func New(log hclog.Logger, reg *registry.Registry, out io.Writer) *Service {
	s := &Service{
		log:         log,
		reg:         reg,
		out:         codec.NewEncoder(out),
		deactivated: make(map[int]struct{}),
		events:      make(chan worker.Event, 64),
		assoc:       make(map[refKey]protocol.Indice),
	}

	for id, desc := range reg.Plugins() {
		s.conns = append(s.conns, &connector{
			worker: worker.New(id, desc, s.events, log),
		})
	}

	return s
}

// Run executes the service until the frontend requests Exit, its input
// reaches end of stream, a frontend write fails, or the context is
// cancelled. All of these shut down cleanly; only cancellation returns an
// error. Requests are read from in.
func (s *Service) Run(ctx context.Context, in io.Reader) error {
	requests := make(chan protocol.Request)
	go s.readRequests(in, requests)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case req, ok := <-requests:
			if !ok || req.Kind == protocol.RequestExit {
				s.shutdown()
				return nil
			}
			if err := s.dispatch(req); err != nil {
				// A failed frontend write means the frontend is gone.
				// Shut down cleanly, same as end of stream.
				s.shutdown()
				return nil
			}

		case ev := <-s.events:
			if err := s.handleEvent(ev); err != nil {
				s.shutdown()
				return nil
			}
		}
	}
}

// readRequests streams parsed frontend requests into the loop. Unparsable
// lines are discarded with a warning; the channel closes on end of stream.
func (s *Service) readRequests(in io.Reader, requests chan<- protocol.Request) {
	scanner := codec.NewScanner(in)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		if err := codec.Decode(line, &req); err != nil {
			s.log.Warn("discarding malformed request", "line", string(line), "error", err)
			continue
		}

		requests <- req
		if req.Kind == protocol.RequestExit {
			break
		}
	}

	close(requests)
}

func (s *Service) dispatch(req protocol.Request) error {
	switch req.Kind {
	case protocol.RequestSearch:
		return s.search(req.Query)
	case protocol.RequestInterrupt:
		s.interrupt()
	case protocol.RequestActivate:
		s.forward(req.ID, protocol.Activate)
	case protocol.RequestComplete:
		s.forward(req.ID, protocol.Complete)
	case protocol.RequestContext:
		s.forward(req.ID, protocol.ContextRequest)
	case protocol.RequestQuit:
		s.forward(req.ID, protocol.Quit)
	case protocol.RequestActivateContext:
		ctx := req.Context
		s.forward(req.ID, func(local protocol.Indice) protocol.Request {
			return protocol.ActivateContext(local, ctx)
		})
	}
	return nil
}

// search begins a new generation: the previous session is superseded, the
// registry selects the fan-out set, and the query is written to each
// selected worker.
func (s *Service) search(query string) error {
	s.supersede()

	selected := s.reg.Select(query, s.deactivated)
	noSort := make(map[int]bool, len(selected))

	dispatched := make([]int, 0, len(selected))
	for _, id := range selected {
		conn := s.conns[id]
		if err := conn.worker.Send(protocol.Search(query)); err != nil {
			// Treated as an immediate Finished with no items; the next
			// search selecting this plugin retries the spawn.
			s.log.Error("search dispatch failed", "plugin", s.reg.Get(id).Name, "error", err)
			conn.gens = nil
			continue
		}

		conn.gens = append(conn.gens, s.generation)
		noSort[id] = s.reg.Get(id).Query.NoSort
		dispatched = append(dispatched, id)
	}

	s.session = session.New(s.generation, query, dispatched, noSort)
	return s.completeIfDone()
}

// interrupt discards the in-flight session. Cancellation is generational:
// late worker output simply no longer attributes to a live session. The
// interrupted workers are told as well so cooperative plugins stop early.
func (s *Service) interrupt() {
	s.supersede()
	s.session = nil
}

// supersede advances the generation and notifies workers still owing
// results for the old one.
func (s *Service) supersede() {
	if s.session != nil {
		for id, conn := range s.conns {
			if s.session.Awaiting(id) && conn.worker.Alive() {
				_ = conn.worker.Send(protocol.Interrupt())
			}
		}
	}

	s.generation++
}

// forward rewrites a frontend request referencing a global id to the owning
// worker's local id and writes it to that worker. Unknown ids are dropped
// silently.
func (s *Service) forward(global protocol.Indice, build func(local protocol.Indice) protocol.Request) {
	if int(global) >= len(s.refs) {
		return
	}

	ref := s.refs[global]
	conn := s.conns[ref.Plugin]

	if err := conn.worker.Send(build(ref.Local)); err != nil {
		s.workerGone(ref.Plugin)
	}
}

func (s *Service) handleEvent(ev worker.Event) error {
	conn := s.conns[ev.Plugin]

	// Output from a previous incarnation of the worker.
	if ev.Epoch != conn.worker.Epoch() {
		return nil
	}

	if ev.Exited {
		conn.worker.Drop()
		s.workerGone(ev.Plugin)
		return s.completeIfDone()
	}

	switch ev.Response.Kind {
	case protocol.PluginAppend:
		if gen, ok := frontGen(conn); ok && s.currentGen(gen) {
			s.session.Append(ev.Plugin, ev.Response.Append)
		}

	case protocol.PluginClear:
		if gen, ok := frontGen(conn); ok && s.currentGen(gen) {
			s.session.Clear()
		}

	case protocol.PluginFinished:
		if gen, ok := popGen(conn); ok && s.currentGen(gen) {
			s.session.Finish(ev.Plugin)
			return s.completeIfDone()
		}

	case protocol.PluginDeactivate:
		s.deactivated[ev.Plugin] = struct{}{}
		conn.worker.Drop()
		s.workerGone(ev.Plugin)
		return s.completeIfDone()

	case protocol.PluginClose:
		return s.respond(protocol.Close())

	case protocol.PluginFill:
		return s.respond(protocol.Fill(ev.Response.Fill))

	case protocol.PluginDesktopEntry:
		return s.respond(protocol.DesktopEntryResponse(ev.Response.DesktopEntry))

	case protocol.PluginContext:
		// Rewrite the plugin-local id to the global id of the emitted
		// item before forwarding.
		ctx := ev.Response.Context
		if global, ok := s.assoc[refKey{plugin: ev.Plugin, local: ctx.ID}]; ok {
			ctx.ID = global
			return s.respond(protocol.ContextResponse(ctx))
		}
	}

	return nil
}

// workerGone settles all bookkeeping for a worker whose child is no longer
// reachable: every dispatched generation terminates, and a session awaiting
// the worker observes a synthetic Finished.
func (s *Service) workerGone(plugin int) {
	conn := s.conns[plugin]
	conn.gens = nil

	if s.session != nil && s.session.Awaiting(plugin) {
		s.session.Finish(plugin)
	}
}

// completeIfDone emits the session's single Update once every selected
// worker is done.
func (s *Service) completeIfDone() error {
	if s.session == nil || !s.session.Done() {
		return nil
	}

	results, refs := s.session.Results(func(plugin int) *protocol.IconSource {
		return s.reg.Get(plugin).Icon
	})

	s.refs = refs
	s.assoc = make(map[refKey]protocol.Indice, len(refs))
	for global, ref := range refs {
		s.assoc[refKey{plugin: ref.Plugin, local: ref.Local}] = protocol.Indice(global)
	}

	s.session = nil
	return s.respond(protocol.Update(results))
}

// respond writes one response line to the frontend. A write failure is
// fatal: the frontend has gone away.
func (s *Service) respond(resp protocol.Response) error {
	if err := s.out.Emit(resp); err != nil {
		s.log.Error("frontend write failed", "error", err)
		return err
	}
	return nil
}

// shutdown propagates Exit to every live worker and reaps them within the
// grace period, killing stragglers. Killing any subset of plugins never
// prevents shutdown.
func (s *Service) shutdown() {
	live := 0
	for _, conn := range s.conns {
		if conn.worker.Alive() {
			_ = conn.worker.Send(protocol.Exit())
			if conn.worker.Alive() {
				live++
			}
		}
	}

	deadline := time.After(shutdownGrace)
	for live > 0 {
		select {
		case ev := <-s.events:
			conn := s.conns[ev.Plugin]
			if ev.Exited && ev.Epoch == conn.worker.Epoch() {
				conn.worker.Drop()
				live--
			}
		case <-deadline:
			for _, conn := range s.conns {
				if conn.worker.Alive() {
					conn.worker.Kill()
				}
			}
			return
		}
	}
}

func (s *Service) currentGen(gen uint64) bool {
	return s.session != nil && gen == s.session.Generation()
}

func frontGen(conn *connector) (uint64, bool) {
	if len(conn.gens) == 0 {
		return 0, false
	}
	return conn.gens[0], true
}

func popGen(conn *connector) (uint64, bool) {
	gen, ok := frontGen(conn)
	if ok {
		conn.gens = conn.gens[1:]
	}
	return gen, ok
}
