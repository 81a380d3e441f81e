package gcode

import "strings"

// Handler processes one command. Text written to reply is sent back to the
// host. Returning an error stops the handler chain and replies "error:".
type Handler func(cmd *Command, reply *strings.Builder) error

// HandlerID identifies a registration so it can be removed
type HandlerID uint32

// Arg is one argument of a synthetic command
type Arg struct {
	Letter byte
	Value  float64
}

type handlerKey struct {
	kind byte
	code int
}

type registration struct {
	id      HandlerID
	handler Handler
}

// Dispatcher routes commands to the handlers registered for their kind and
// code. Several handlers may share a code; they run in registration order.
//
// A Dispatcher owns a single result buffer and must only be used from the
// command context.
type Dispatcher struct {
	handlers map[handlerKey][]registration
	nextID   HandlerID
	result   strings.Builder
}

// NewDispatcher creates a dispatcher with no handlers
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[handlerKey][]registration),
		nextID:   1,
	}
}

// AddHandler registers h for kind ('G' or 'M') and code
func (d *Dispatcher) AddHandler(kind byte, code int, h Handler) HandlerID {
	key := handlerKey{kind: toUpper(kind), code: code}
	id := d.nextID
	d.nextID++
	d.handlers[key] = append(d.handlers[key], registration{id: id, handler: h})
	return id
}

// RemoveHandler removes a registration. It reports whether it was found.
func (d *Dispatcher) RemoveHandler(id HandlerID) bool {
	for key, regs := range d.handlers {
		for i := range regs {
			if regs[i].id != id {
				continue
			}
			regs = append(regs[:i:i], regs[i+1:]...)
			if len(regs) == 0 {
				delete(d.handlers, key)
			} else {
				d.handlers[key] = regs
			}
			return true
		}
	}
	return false
}

// ClearHandlers removes every registration
func (d *Dispatcher) ClearHandlers() {
	d.handlers = make(map[handlerKey][]registration)
}

// HasHandler reports whether anything is registered for kind and code
func (d *Dispatcher) HasHandler(kind byte, code int) bool {
	return len(d.handlers[handlerKey{kind: toUpper(kind), code: code}]) > 0
}

// Dispatch runs every handler registered for cmd and reports whether there
// was at least one. An unmatched command is not an error; the caller
// acknowledges it as unhandled. The reply is available from Result.
func (d *Dispatcher) Dispatch(cmd *Command) bool {
	d.result.Reset()

	regs := d.handlers[handlerKey{kind: cmd.Kind, code: cmd.Code}]
	if len(regs) == 0 {
		return false
	}

	for _, r := range regs {
		if err := r.handler(cmd, &d.result); err != nil {
			d.result.WriteString("error:")
			d.result.WriteString(err.Error())
			d.result.WriteByte('\n')
			return true
		}
	}
	d.result.WriteString("ok\n")
	return true
}

// DispatchCode builds a command inline and dispatches it. It is used for
// internal requests such as loading the configuration at startup.
func (d *Dispatcher) DispatchCode(kind byte, code int, args ...Arg) bool {
	cmd := Command{
		Kind: toUpper(kind),
		Code: code,
		Args: make(map[byte]float64, len(args)),
	}
	for _, a := range args {
		cmd.Args[toUpper(a.Letter)] = a.Value
	}
	return d.Dispatch(&cmd)
}

// Result returns the reply text of the last dispatch
func (d *Dispatcher) Result() string {
	return d.result.String()
}
