package flagkit

import (
	"log/slog"
	"sync"

	"github.com/flagkit/flagkit-go-client/eventlogger"
)

// EventName identifies a client lifecycle or evaluation event.
type EventName string

const (
	// EventAny receives every event.
	EventAny                  EventName = "*"
	EventValuesUpdated        EventName = "values_updated"
	EventError                EventName = "error"
	EventLogsFlushed          EventName = "logs_flushed"
	EventGateEvaluation       EventName = "gate_evaluation"
	EventConfigEvaluation     EventName = "dynamic_config_evaluation"
	EventExperimentEvaluation EventName = "experiment_evaluation"
	EventLayerEvaluation      EventName = "layer_evaluation"
	EventPreShutdown          EventName = "pre_shutdown"
)

// ClientEvent is delivered to listeners. Only the fields relevant to Name are set.
type ClientEvent struct {
	Name       EventName
	Status     LoadingStatus
	Gate       *FeatureGate
	Config     *DynamicConfig
	Experiment *Experiment
	Layer      *Layer
	Events     []eventlogger.Event
	Err        error
}

type Listener func(ClientEvent)

// ListenerID is returned by On and removes the listener when passed to Off.
type ListenerID uint64

type registeredListener struct {
	id   ListenerID
	name EventName
	fn   Listener
}

type emitter struct {
	mu        sync.RWMutex
	nextID    ListenerID
	listeners []registeredListener
	log       *slog.Logger
}

func newEmitter(log *slog.Logger) *emitter {
	return &emitter{log: log}
}

func (e *emitter) on(name EventName, fn Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners = append(e.listeners, registeredListener{id: e.nextID, name: name, fn: fn})
	return e.nextID
}

func (e *emitter) off(id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// emit calls every matching listener. A panicking listener is logged and skipped.
func (e *emitter) emit(ev ClientEvent) {
	e.mu.RLock()
	listeners := make([]registeredListener, 0, len(e.listeners))
	for _, l := range e.listeners {
		if l.name == ev.Name || l.name == EventAny {
			listeners = append(listeners, l)
		}
	}
	e.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("listener panicked", "event", ev.Name, "panic", r)
				}
			}()
			l.fn(ev)
		}()
	}
}
