package streamer

import (
	"fmt"

	"github.com/creachadair/streamer/source"
)

// A RuntimeContext supplies the identity of the task that owns a bridge, and
// the broadcast variables available to it.
type RuntimeContext interface {
	// TaskName returns the name of the owning task, used to identify the
	// session in failure messages.
	TaskName() string

	// BroadcastVariable returns a source over the values of the named
	// broadcast variable. Each call returns a fresh source.
	BroadcastVariable(name string) (source.Source[any], error)
}

// A ContextFunc resolves the runtime context of a bridge. It is called once,
// when the bridge is opened; the context is unavailable when the bridge is
// constructed. A ContextFunc may return a nil context if the owner has none,
// in which case the task name is empty and no broadcast variables exist.
type ContextFunc func() (RuntimeContext, error)

// StaticContext is a RuntimeContext with a fixed task name and a fixed set of
// broadcast variables.
type StaticContext struct {
	Task      string
	Variables map[string][]any
}

// TaskName implements part of the RuntimeContext interface.
func (c StaticContext) TaskName() string { return c.Task }

// BroadcastVariable implements part of the RuntimeContext interface.
func (c StaticContext) BroadcastVariable(name string) (source.Source[any], error) {
	vs, ok := c.Variables[name]
	if !ok {
		return nil, fmt.Errorf("no broadcast variable %q", name)
	}
	return source.Slice(vs...), nil
}

// Static returns a ContextFunc that always resolves to c.
func Static(c StaticContext) ContextFunc {
	return func() (RuntimeContext, error) { return c, nil }
}

// BroadcastConfig names the broadcast variables to transfer to a worker, in
// the order the worker will receive them.
type BroadcastConfig struct {
	Names []string `yaml:"names" json:"names"`
}

// Well-known command messages sent with SendMessage.
const (
	// CloseMessage tells the worker that no further input will follow.
	CloseMessage = "close_streamer"

	// ComputeSplitsMessage asks the worker to compute input splits rather
	// than to process records.
	ComputeSplitsMessage = "compute_splits"
)
