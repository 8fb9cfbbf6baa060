// Package protocol defines the wire types spoken on every IPC edge of the
// launcher: frontend to service, service to plugin, and plugin to service.
// Values are encoded as externally tagged JSON, one value per line.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Indice is a numeric item identifier. Plugins choose their own local
// indices; the service exposes dense session-scoped global indices to the
// frontend.
type Indice = uint32

// Window references a window owned by a compositor. The pair is opaque to
// the service and forwarded verbatim.
type Window [2]Indice

// GpuPreference selects which GPU the frontend should launch an entry on.
type GpuPreference string

const (
	GpuDefault    GpuPreference = "Default"
	GpuNonDefault GpuPreference = "NonDefault"
)

// IconSource locates an icon either by freedesktop name/path or by mime
// type. Exactly one field is set.
type IconSource struct {
	Name string
	Mime string
}

func (i IconSource) MarshalJSON() ([]byte, error) {
	if i.Mime != "" {
		return json.Marshal(map[string]string{"Mime": i.Mime})
	}
	return json.Marshal(map[string]string{"Name": i.Name})
}

func (i *IconSource) UnmarshalJSON(data []byte) error {
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if name, ok := obj["Name"]; ok {
		*i = IconSource{Name: name}
		return nil
	}
	if mime, ok := obj["Mime"]; ok {
		*i = IconSource{Mime: mime}
		return nil
	}
	return fmt.Errorf("icon source must be Name or Mime")
}

// ContextOption is one entry of a context menu attached to a search item.
type ContextOption struct {
	ID   Indice `json:"id"`
	Name string `json:"name"`
}

// Context pairs an item with its context menu options.
type Context struct {
	ID      Indice          `json:"id"`
	Options []ContextOption `json:"options"`
}

// DesktopEntry asks the frontend to launch a .desktop file.
type DesktopEntry struct {
	Path          string        `json:"path"`
	GpuPreference GpuPreference `json:"gpu_preference"`
}

// PluginSearchResult is a search item as emitted by a plugin, carrying the
// plugin's own local id.
type PluginSearchResult struct {
	ID          Indice      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Keywords    []string    `json:"keywords,omitempty"`
	Icon        *IconSource `json:"icon,omitempty"`
	Exec        string      `json:"exec,omitempty"`
	Window      *Window     `json:"window,omitempty"`
}

// SearchResult is a search item as delivered to the frontend, carrying the
// session-scoped global id and the source plugin's category icon.
type SearchResult struct {
	ID           Indice      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Icon         *IconSource `json:"icon,omitempty"`
	CategoryIcon *IconSource `json:"category_icon,omitempty"`
	Window       *Window     `json:"window,omitempty"`
}

// RequestKind discriminates Request variants.
type RequestKind uint8

const (
	RequestActivate RequestKind = iota
	RequestActivateContext
	RequestComplete
	RequestContext
	RequestExit
	RequestInterrupt
	RequestQuit
	RequestSearch
)

// Request is sent by a frontend to the service, and disseminated by the
// service to its plugins with ids rewritten.
type Request struct {
	Kind    RequestKind
	ID      Indice
	Context Indice
	Query   string
}

func Activate(id Indice) Request       { return Request{Kind: RequestActivate, ID: id} }
func Complete(id Indice) Request       { return Request{Kind: RequestComplete, ID: id} }
func ContextRequest(id Indice) Request { return Request{Kind: RequestContext, ID: id} }
func Quit(id Indice) Request           { return Request{Kind: RequestQuit, ID: id} }
func Search(query string) Request      { return Request{Kind: RequestSearch, Query: query} }
func Exit() Request                    { return Request{Kind: RequestExit} }
func Interrupt() Request               { return Request{Kind: RequestInterrupt} }
func ActivateContext(id, ctx Indice) Request {
	return Request{Kind: RequestActivateContext, ID: id, Context: ctx}
}

type idContext struct {
	ID      Indice `json:"id"`
	Context Indice `json:"context"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RequestActivate:
		return json.Marshal(map[string]Indice{"Activate": r.ID})
	case RequestActivateContext:
		return json.Marshal(map[string]idContext{"ActivateContext": {ID: r.ID, Context: r.Context}})
	case RequestComplete:
		return json.Marshal(map[string]Indice{"Complete": r.ID})
	case RequestContext:
		return json.Marshal(map[string]Indice{"Context": r.ID})
	case RequestExit:
		return []byte(`"Exit"`), nil
	case RequestInterrupt:
		return []byte(`"Interrupt"`), nil
	case RequestQuit:
		return json.Marshal(map[string]Indice{"Quit": r.ID})
	case RequestSearch:
		return json.Marshal(map[string]string{"Search": r.Query})
	}
	return nil, fmt.Errorf("unknown request kind %d", r.Kind)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch tag {
		case "Exit":
			*r = Exit()
		case "Interrupt":
			*r = Interrupt()
		default:
			return fmt.Errorf("unknown request %q", tag)
		}
		return nil
	}

	obj, tag, err := variant(data)
	if err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}

	switch tag {
	case "Activate", "Complete", "Context", "Quit":
		var id Indice
		if err := json.Unmarshal(obj, &id); err != nil {
			return fmt.Errorf("%s: %w", tag, err)
		}
		kind := map[string]RequestKind{
			"Activate": RequestActivate,
			"Complete": RequestComplete,
			"Context":  RequestContext,
			"Quit":     RequestQuit,
		}[tag]
		*r = Request{Kind: kind, ID: id}
	case "ActivateContext":
		var ic idContext
		if err := json.Unmarshal(obj, &ic); err != nil {
			return fmt.Errorf("ActivateContext: %w", err)
		}
		*r = ActivateContext(ic.ID, ic.Context)
	case "Search":
		var query string
		if err := json.Unmarshal(obj, &query); err != nil {
			return fmt.Errorf("Search: %w", err)
		}
		*r = Search(query)
	default:
		return fmt.Errorf("unknown request %q", tag)
	}
	return nil
}

// ResponseKind discriminates Response variants.
type ResponseKind uint8

const (
	ResponseClose ResponseKind = iota
	ResponseContext
	ResponseDesktopEntry
	ResponseUpdate
	ResponseFill
)

// Response is sent by the service to the frontend.
type Response struct {
	Kind         ResponseKind
	Context      Context
	DesktopEntry DesktopEntry
	Update       []SearchResult
	Fill         string
}

func Close() Response           { return Response{Kind: ResponseClose} }
func Fill(text string) Response { return Response{Kind: ResponseFill, Fill: text} }
func Update(list []SearchResult) Response {
	if list == nil {
		list = []SearchResult{}
	}
	return Response{Kind: ResponseUpdate, Update: list}
}
func ContextResponse(ctx Context) Response {
	return Response{Kind: ResponseContext, Context: ctx}
}
func DesktopEntryResponse(entry DesktopEntry) Response {
	return Response{Kind: ResponseDesktopEntry, DesktopEntry: entry}
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResponseClose:
		return []byte(`"Close"`), nil
	case ResponseContext:
		return json.Marshal(map[string]Context{"Context": r.Context})
	case ResponseDesktopEntry:
		return json.Marshal(map[string]DesktopEntry{"DesktopEntry": r.DesktopEntry})
	case ResponseUpdate:
		list := r.Update
		if list == nil {
			list = []SearchResult{}
		}
		return json.Marshal(map[string][]SearchResult{"Update": list})
	case ResponseFill:
		return json.Marshal(map[string]string{"Fill": r.Fill})
	}
	return nil, fmt.Errorf("unknown response kind %d", r.Kind)
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "Close" {
			return fmt.Errorf("unknown response %q", tag)
		}
		*r = Close()
		return nil
	}

	obj, tag, err := variant(data)
	if err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}

	switch tag {
	case "Context":
		var ctx Context
		if err := json.Unmarshal(obj, &ctx); err != nil {
			return err
		}
		*r = ContextResponse(ctx)
	case "DesktopEntry":
		var entry DesktopEntry
		if err := json.Unmarshal(obj, &entry); err != nil {
			return err
		}
		*r = DesktopEntryResponse(entry)
	case "Update":
		var list []SearchResult
		if err := json.Unmarshal(obj, &list); err != nil {
			return err
		}
		*r = Update(list)
	case "Fill":
		var text string
		if err := json.Unmarshal(obj, &text); err != nil {
			return err
		}
		*r = Fill(text)
	default:
		return fmt.Errorf("unknown response %q", tag)
	}
	return nil
}

// PluginResponseKind discriminates PluginResponse variants.
type PluginResponseKind uint8

const (
	PluginAppend PluginResponseKind = iota
	PluginClear
	PluginClose
	PluginContext
	PluginDeactivate
	PluginDesktopEntry
	PluginFill
	PluginFinished
)

// PluginResponse is sent by a plugin to the service.
type PluginResponse struct {
	Kind         PluginResponseKind
	Append       PluginSearchResult
	Context      Context
	DesktopEntry DesktopEntry
	Fill         string
}

func Append(item PluginSearchResult) PluginResponse {
	return PluginResponse{Kind: PluginAppend, Append: item}
}
func Clear() PluginResponse      { return PluginResponse{Kind: PluginClear} }
func Finished() PluginResponse   { return PluginResponse{Kind: PluginFinished} }
func Deactivate() PluginResponse { return PluginResponse{Kind: PluginDeactivate} }

func (r PluginResponse) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case PluginAppend:
		return json.Marshal(map[string]PluginSearchResult{"Append": r.Append})
	case PluginClear:
		return []byte(`"Clear"`), nil
	case PluginClose:
		return []byte(`"Close"`), nil
	case PluginContext:
		return json.Marshal(map[string]Context{"Context": r.Context})
	case PluginDeactivate:
		return []byte(`"Deactivate"`), nil
	case PluginDesktopEntry:
		return json.Marshal(map[string]DesktopEntry{"DesktopEntry": r.DesktopEntry})
	case PluginFill:
		return json.Marshal(map[string]string{"Fill": r.Fill})
	case PluginFinished:
		return []byte(`"Finished"`), nil
	}
	return nil, fmt.Errorf("unknown plugin response kind %d", r.Kind)
}

func (r *PluginResponse) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch tag {
		case "Clear":
			*r = Clear()
		case "Close":
			*r = PluginResponse{Kind: PluginClose}
		case "Deactivate":
			*r = Deactivate()
		case "Finished":
			*r = Finished()
		default:
			return fmt.Errorf("unknown plugin response %q", tag)
		}
		return nil
	}

	obj, tag, err := variant(data)
	if err != nil {
		return fmt.Errorf("malformed plugin response: %w", err)
	}

	switch tag {
	case "Append":
		var item PluginSearchResult
		if err := json.Unmarshal(obj, &item); err != nil {
			return err
		}
		*r = Append(item)
	case "Context":
		var ctx Context
		if err := json.Unmarshal(obj, &ctx); err != nil {
			return err
		}
		*r = PluginResponse{Kind: PluginContext, Context: ctx}
	case "DesktopEntry":
		var entry DesktopEntry
		if err := json.Unmarshal(obj, &entry); err != nil {
			return err
		}
		*r = PluginResponse{Kind: PluginDesktopEntry, DesktopEntry: entry}
	case "Fill":
		var text string
		if err := json.Unmarshal(obj, &text); err != nil {
			return err
		}
		*r = PluginResponse{Kind: PluginFill, Fill: text}
	default:
		return fmt.Errorf("unknown plugin response %q", tag)
	}
	return nil
}

// variant unwraps a single-key externally tagged JSON object.
func variant(data []byte) (json.RawMessage, string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, "", err
	}
	if len(obj) != 1 {
		return nil, "", fmt.Errorf("expected exactly one variant key, got %d", len(obj))
	}
	for tag, raw := range obj {
		return raw, tag, nil
	}
	return nil, "", fmt.Errorf("empty variant object")
}
