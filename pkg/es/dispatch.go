package es

import "fmt"

// ParamKind tags one slot of a registered handler's parameter list (spec.md
// §9, replacing the source's reflection-bound `when` parameters with an
// explicit, statically-dispatched parameter spec).
type ParamKind int

const (
	ParamEventPayload ParamKind = iota
	ParamRawEvent
	ParamDocument
	ParamVersionToken
	ParamExecutionContext
	ParamExecutionContextWithData
	ParamCustom
)

// ParamSpec is one ordered parameter-kind tag. Name is only meaningful when
// Kind == ParamCustom, and is resolved against the dispatcher's registered
// parameter-value factories.
type ParamSpec struct {
	Kind ParamKind
	Name string
}

// ExecutionContext is the "event + document + optional parent" binding
// available to IExecutionContext-shaped handler parameters (spec.md §4.6).
type ExecutionContext struct {
	Event    Event
	Document *Document
	Parent   *ExecutionContext
	Data     any // populated for IExecutionContextWithData bindings
}

// HandlerFunc is the type-erased form every registered reducer is adapted
// to once its parameters are resolved, in declared order.
type HandlerFunc func(args []any) error

// ParamFactory produces a custom-bound parameter value from the current
// document/event pair (spec.md §4.6 whenParameterValueFactories).
type ParamFactory func(document *Document, event Event) (any, error)

type handlerEntry struct {
	params []ParamSpec
	fn     HandlerFunc
}

// Dispatcher is an O(1), eventType-keyed handler table shared by the
// Aggregate Fold Runtime (C6) and the Projection Runtime (C7). No reflection
// is used at fold time: every parameter slot is resolved by a static switch
// over ParamKind.
type Dispatcher struct {
	handlers       map[string]handlerEntry
	payloadFactory map[string]func() any
	paramFactories map[string]ParamFactory
	postWhen       func(document *Document, event Event)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers:       make(map[string]handlerEntry),
		payloadFactory: make(map[string]func() any),
		paramFactories: make(map[string]ParamFactory),
	}
}

// RegisterEventType binds eventType to a fresh-payload constructor, used
// whenever a handler declares a ParamEventPayload slot for that type.
func (d *Dispatcher) RegisterEventType(eventType string, newPayload func() any) {
	d.payloadFactory[eventType] = newPayload
}

// RegisterParamFactory binds a custom parameter name to a value factory.
// Parameter-type names are expected to already be normalized by the caller
// (spec.md §4.6: "primitive aliases -> canonical names").
func (d *Dispatcher) RegisterParamFactory(name string, factory ParamFactory) {
	d.paramFactories[name] = factory
}

// SetPostWhen installs a hook that runs once after every successfully
// dispatched event (spec.md §4.4 Fold "post-when hook").
func (d *Dispatcher) SetPostWhen(fn func(document *Document, event Event)) {
	d.postWhen = fn
}

// Register attaches a handler for eventType with the given ordered
// parameter spec.
func (d *Dispatcher) Register(eventType string, params []ParamSpec, fn HandlerFunc) {
	d.handlers[eventType] = handlerEntry{params: params, fn: fn}
}

// Handles reports whether a handler is registered for eventType.
func (d *Dispatcher) Handles(eventType string) bool {
	_, ok := d.handlers[eventType]
	return ok
}

// Dispatch resolves and invokes the handler registered for event.EventType.
// Unregistered event types are ignored — the event is still considered
// applied for replay-bookkeeping purposes (spec.md §4.4 Fold).
func (d *Dispatcher) Dispatch(document *Document, event Event, parent *ExecutionContext) error {
	entry, ok := d.handlers[event.EventType]
	if !ok {
		return nil
	}

	args := make([]any, len(entry.params))
	execCtx := &ExecutionContext{Event: event, Document: document, Parent: parent}
	if parent != nil {
		execCtx.Data = parent.Data
	}

	for i, p := range entry.params {
		switch p.Kind {
		case ParamEventPayload:
			newPayload, ok := d.payloadFactory[event.EventType]
			if !ok {
				return fmt.Errorf("dispatch %s: no payload type registered", event.EventType)
			}
			payload := newPayload()
			if len(event.Payload) > 0 {
				if err := decode(event.EventType, event.Payload, payload); err != nil {
					return fmt.Errorf("dispatch %s: %w", event.EventType, err)
				}
			}
			args[i] = payload
		case ParamRawEvent:
			args[i] = event
		case ParamDocument:
			args[i] = document
		case ParamVersionToken:
			args[i] = event.Version
		case ParamExecutionContext, ParamExecutionContextWithData:
			args[i] = execCtx
		case ParamCustom:
			factory, ok := d.paramFactories[p.Name]
			if !ok {
				return fmt.Errorf("dispatch %s: no param factory registered for %q", event.EventType, p.Name)
			}
			val, err := factory(document, event)
			if err != nil {
				return fmt.Errorf("dispatch %s: resolve param %q: %w", event.EventType, p.Name, err)
			}
			args[i] = val
		}
	}

	if err := entry.fn(args); err != nil {
		return err
	}
	if d.postWhen != nil {
		d.postWhen(document, event)
	}
	return nil
}
