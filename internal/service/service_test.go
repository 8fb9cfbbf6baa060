package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pop-os/launcher/internal/codec"
	"github.com/pop-os/launcher/internal/protocol"
	"github.com/pop-os/launcher/internal/registry"
)

const scriptHeader = "#!/bin/sh\n"

// writePlugin installs a shell-script plugin into the test plugin tree.
func writePlugin(t *testing.T, root, name, descriptor, script string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, registry.DescriptorFile), []byte(descriptor), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(scriptHeader+script), 0o755))
}

type harness struct {
	t         *testing.T
	enc       *codec.Encoder
	responses <-chan protocol.Response
	done      <-chan error
}

// start runs a service over the plugin tree at root, wired to in-memory
// pipes standing in for the frontend's streams.
func start(t *testing.T, root string) *harness {
	t.Helper()

	reg := registry.Load(hclog.NewNullLogger(), root)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	svc := New(hclog.NewNullLogger(), reg, outW)

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(context.Background(), inR)
	}()

	responses := make(chan protocol.Response, 16)
	go func() {
		scanner := codec.NewScanner(outR)
		for scanner.Scan() {
			var resp protocol.Response
			if err := codec.Decode(scanner.Bytes(), &resp); err == nil {
				responses <- resp
			}
		}
		close(responses)
	}()

	h := &harness{t: t, enc: codec.NewEncoder(inW), responses: responses, done: done}

	t.Cleanup(func() {
		_ = h.enc.Emit(protocol.Exit())
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("service did not shut down")
		}
		inW.Close()
		outR.Close()
	})

	return h
}

func (h *harness) send(req protocol.Request) {
	h.t.Helper()
	require.NoError(h.t, h.enc.Emit(req))
}

func (h *harness) next(timeout time.Duration) (protocol.Response, bool) {
	select {
	case resp, ok := <-h.responses:
		return resp, ok
	case <-time.After(timeout):
		return protocol.Response{}, false
	}
}

func (h *harness) expectUpdate() []protocol.SearchResult {
	h.t.Helper()
	resp, ok := h.next(3 * time.Second)
	require.True(h.t, ok, "expected an Update response")
	require.Equal(h.t, protocol.ResponseUpdate, resp.Kind)
	return resp.Update
}

func (h *harness) expectFill() string {
	h.t.Helper()
	resp, ok := h.next(3 * time.Second)
	require.True(h.t, ok, "expected a Fill response")
	require.Equal(h.t, protocol.ResponseFill, resp.Kind)
	return resp.Fill
}

func (h *harness) expectSilence(d time.Duration) {
	h.t.Helper()
	if resp, ok := h.next(d); ok {
		h.t.Fatalf("expected no response, got kind %d", resp.Kind)
	}
}

func names(results []protocol.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Name)
	}
	return out
}

const calcDescriptor = `
name: Calculator
icon:
  name: accessories-calculator
bin:
  path: run.sh
query:
  regex: "^="
  isolate: "^="
`

const calcScript = `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*) printf '%s\n' '{"Append":{"id":0,"name":"3","description":"=1+2"}}' '"Finished"' ;;
    *'"Activate"'*) printf '%s\n' '{"Fill":"= 3"}' ;;
    '"Exit"') exit 0 ;;
  esac
done`

// echoScript answers every search with two items derived from the query.
const echoScript = `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*)
      q=${line#*\"Search\":\"}; q=${q%%\"*}
      printf '{"Append":{"id":0,"name":"%s alpha","description":""}}\n' "$q"
      printf '{"Append":{"id":1,"name":"%s beta","description":""}}\n' "$q"
      printf '"Finished"\n'
      ;;
    '"Exit"') exit 0 ;;
  esac
done`

func plainDescriptor(name string) string {
	return "name: " + name + "\nbin:\n  path: run.sh\n"
}

// S1: an isolating plugin that matches the query is consulted exclusively.
func TestIsolateDominates(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, "files-was-searched")

	writePlugin(t, root, "calc", calcDescriptor, calcScript)
	writePlugin(t, root, "files", plainDescriptor("Files"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*) touch `+marker+`; printf '"Finished"\n' ;;
    '"Exit"') exit 0 ;;
  esac
done`)

	h := start(t, root)
	h.send(protocol.Search("=1+2"))

	update := h.expectUpdate()
	require.Len(t, update, 1)
	assert.Equal(t, "3", update[0].Name)
	assert.Equal(t, protocol.Indice(0), update[0].ID)
	require.NotNil(t, update[0].CategoryIcon)
	assert.Equal(t, "accessories-calculator", update[0].CategoryIcon.Name)

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "isolated search must not reach other plugins")
}

// S5: activation rewrites the global id to the plugin-local id.
func TestActivationRewrite(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "calc", calcDescriptor, calcScript)

	h := start(t, root)
	h.send(protocol.Search("=1+2"))
	require.Len(t, h.expectUpdate(), 1)

	h.send(protocol.Activate(0))
	assert.Equal(t, "= 3", h.expectFill())
}

// S2: a superseding search drops every result of the earlier generation.
func TestGenerationSupersession(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", plainDescriptor("Echo"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*)
      sleep 0.3
      q=${line#*\"Search\":\"}; q=${q%%\"*}
      printf '{"Append":{"id":0,"name":"%s one","description":""}}\n' "$q"
      printf '"Finished"\n'
      ;;
    '"Exit"') exit 0 ;;
  esac
done`)

	h := start(t, root)
	h.send(protocol.Search("a"))
	h.send(protocol.Search("ab"))

	update := h.expectUpdate()
	require.Len(t, update, 1)
	assert.Equal(t, "ab one", update[0].Name)

	// The first generation must never surface.
	h.expectSilence(500 * time.Millisecond)
}

// S3: a worker dying mid-session behaves as Finished; its accepted items
// survive.
func TestCrashIsolation(t *testing.T) {
	root := t.TempDir()

	writePlugin(t, root, "a-crashy", plainDescriptor("Crashy"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*)
      printf '%s\n' '{"Append":{"id":0,"name":"x alpha","description":""}}'
      printf '%s\n' '{"Append":{"id":1,"name":"x beta","description":""}}'
      exit 3
      ;;
  esac
done`)
	writePlugin(t, root, "b-steady", plainDescriptor("Steady"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*) printf '%s\n' '{"Append":{"id":0,"name":"x gamma","description":""}}' '"Finished"' ;;
    '"Exit"') exit 0 ;;
  esac
done`)

	h := start(t, root)
	h.send(protocol.Search("x"))

	update := h.expectUpdate()
	assert.Equal(t, []string{"x alpha", "x beta", "x gamma"}, names(update))

	// The crashed plugin respawns on the next search.
	h.send(protocol.Search("x"))
	update = h.expectUpdate()
	assert.Len(t, update, 3)
}

// S4: Clear drops earlier items and restarts numbering from zero.
func TestClearRestartsNumbering(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "clearing", plainDescriptor("Clearing"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*)
      printf '%s\n' '{"Append":{"id":5,"name":"stale","description":""}}'
      printf '%s\n' '"Clear"'
      printf '%s\n' '{"Append":{"id":7,"name":"only","description":""}}'
      printf '%s\n' '"Finished"'
      ;;
    '"Exit"') exit 0 ;;
  esac
done`)

	h := start(t, root)
	h.send(protocol.Search("only"))

	update := h.expectUpdate()
	require.Len(t, update, 1)
	assert.Equal(t, protocol.Indice(0), update[0].ID)
	assert.Equal(t, "only", update[0].Name)
}

// S6: after Interrupt, the interrupted generation never produces an Update.
func TestInterrupt(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", plainDescriptor("Echo"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*)
      sleep 0.3
      printf '%s\n' '{"Append":{"id":0,"name":"late","description":""}}' '"Finished"'
      ;;
    '"Exit"') exit 0 ;;
  esac
done`)

	h := start(t, root)
	h.send(protocol.Search("q"))
	h.send(protocol.Interrupt())

	h.expectSilence(700 * time.Millisecond)
}

func TestEmptyQueryWithoutPersistentPlugins(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", plainDescriptor("Echo"), echoScript)

	h := start(t, root)
	h.send(protocol.Search(""))

	update := h.expectUpdate()
	assert.Empty(t, update)
}

func TestPersistentPluginServesEmptyQuery(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "recent", "name: Recent\nbin:\n  path: run.sh\nquery:\n  persistent: true\n", echoScript)

	h := start(t, root)
	h.send(protocol.Search(""))

	update := h.expectUpdate()
	assert.Equal(t, []string{" alpha", " beta"}, names(update))
}

func TestMalformedGlobalIDDroppedSilently(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "calc", calcDescriptor, calcScript)

	h := start(t, root)
	h.send(protocol.Search("=1+2"))
	require.Len(t, h.expectUpdate(), 1)

	h.send(protocol.Activate(99))
	h.expectSilence(300 * time.Millisecond)
}

func TestDeactivateExcludesPluginFromFutureSearches(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "oneshot", plainDescriptor("OneShot"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*) printf '%s\n' '"Deactivate"' ;;
    '"Exit"') exit 0 ;;
  esac
done`)

	h := start(t, root)

	h.send(protocol.Search("first"))
	assert.Empty(t, h.expectUpdate())

	// The plugin is gone; an empty selection completes immediately.
	h.send(protocol.Search("second"))
	assert.Empty(t, h.expectUpdate())
}

func TestUnparsableFrontendLineIsIgnored(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "calc", calcDescriptor, calcScript)

	h := start(t, root)

	// Raw junk straight onto the wire, then a valid request.
	type raw string
	require.NoError(t, h.enc.Emit(raw("this is not a request")))
	h.send(protocol.Search("=1+2"))

	assert.Len(t, h.expectUpdate(), 1)
}

// Killing or hanging plugins must never prevent shutdown.
func TestShutdownBoundedByUnresponsivePlugin(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "stubborn", plainDescriptor("Stubborn"), `while IFS= read -r line; do
  case "$line" in
    *'"Search"'*) printf '"Finished"\n' ;;
    '"Exit"') sleep 60 ;;
  esac
done`)

	reg := registry.Load(hclog.NewNullLogger(), root)
	inR, inW := io.Pipe()
	svc := New(hclog.NewNullLogger(), reg, io.Discard)

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(context.Background(), inR)
	}()

	enc := codec.NewEncoder(inW)
	require.NoError(t, enc.Emit(protocol.Search("x")))
	time.Sleep(200 * time.Millisecond)

	started := time.Now()
	require.NoError(t, enc.Emit(protocol.Exit()))

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Less(t, time.Since(started), 4*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not shut down")
	}
}
