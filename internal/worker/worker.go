// Package worker supervises one plugin child process: lazy spawn, pipe
// wiring, epoch-tagged output delivery, and crash detection.
package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"

	"github.com/pop-os/launcher/internal/codec"
	"github.com/pop-os/launcher/internal/protocol"
	"github.com/pop-os/launcher/internal/registry"
)

// Event is one unit of plugin output delivered to the service loop, tagged
// with the owning plugin id and the epoch observed at spawn time. Output
// from a previous incarnation of the worker carries a stale epoch and is
// discarded by the receiver.
type Event struct {
	Plugin   int
	Epoch    uint64
	Response protocol.PluginResponse
	// Exited marks the terminal event of an incarnation: the child's
	// stdout reached end of stream and the process was reaped.
	Exited bool
}

// Worker is the runtime state for one plugin. The service loop is the sole
// owner; only the stdout reader goroutine runs concurrently, and it
// communicates exclusively through the event channel.
type Worker struct {
	id     int
	desc   *registry.Descriptor
	events chan<- Event
	log    hclog.Logger

	epoch uint64
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *codec.Encoder
}

// New creates a worker in the absent state. The child is spawned lazily by
// the first Send.
func New(id int, desc *registry.Descriptor, events chan<- Event, log hclog.Logger) *Worker {
	return &Worker{
		id:     id,
		desc:   desc,
		events: events,
		log:    log.Named(desc.Name),
	}
}

// Alive reports whether a child process is currently attached.
func (w *Worker) Alive() bool {
	return w.cmd != nil
}

// Epoch returns the current incarnation counter.
func (w *Worker) Epoch() uint64 {
	return w.epoch
}

// Send writes one request line to the child's stdin, spawning the child
// first if absent. On any failure the worker drops to absent and the error
// is returned; the caller decides whether that counts as a finished search.
func (w *Worker) Send(req protocol.Request) error {
	if w.cmd == nil {
		if err := w.spawn(); err != nil {
			return err
		}
	}

	if err := w.enc.Emit(req); err != nil {
		w.log.Error("write to plugin failed", "error", err)
		w.Drop()
		return err
	}
	return nil
}

// spawn forks the descriptor's executable with the launcher's working
// directory and environment, binds its stdin and stdout, and attaches the
// stdout reader.
func (w *Worker) spawn() error {
	cmd := exec.Command(w.desc.Exec)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("spawn %s: %w", w.desc.Exec, err)
	}

	w.log.Debug("launched plugin", "pid", cmd.Process.Pid)

	w.cmd = cmd
	w.stdin = stdin
	w.enc = codec.NewEncoder(stdin)

	go w.read(cmd, stdout, w.epoch)
	return nil
}

// read streams parsed responses from the child's stdout into the event
// channel until end of stream, then reaps the child and emits the terminal
// exit event. Runs as the incarnation's reader goroutine.
func (w *Worker) read(cmd *exec.Cmd, stdout io.Reader, epoch uint64) {
	scanner := codec.NewScanner(stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var response protocol.PluginResponse
		if err := codec.Decode(line, &response); err != nil {
			// Stray diagnostic output from a misbehaving plugin must
			// not tear down the worker.
			w.log.Warn("discarding unparsable plugin output", "line", string(line), "error", err)
			continue
		}

		w.events <- Event{Plugin: w.id, Epoch: epoch, Response: response}
	}

	if err := scanner.Err(); err != nil {
		w.log.Warn("plugin stdout read failed", "error", err)
	}

	_ = cmd.Wait()
	w.log.Debug("plugin exited")
	w.events <- Event{Plugin: w.id, Epoch: epoch, Exited: true}
}

// Drop transitions the worker to absent: the stdin pipe is closed, the
// incarnation counter advances so in-flight reader output becomes stale,
// and the pipe fields are cleared. The reader goroutine reaps the child.
func (w *Worker) Drop() {
	if w.cmd == nil {
		return
	}

	w.stdin.Close()
	w.cmd = nil
	w.stdin = nil
	w.enc = nil
	w.epoch++
}

// Kill forcibly terminates a child that outlived the shutdown grace period.
func (w *Worker) Kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}
