package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
)

// EventType defines the type of a hook event.
type EventType string

// Events whose name starts with "Pre" run synchronously and may cancel the
// operation by returning an error. All other events are notifications.
const (
	// Data Lifecycle Events
	EventPreSet     EventType = "PreSet"
	EventPostSet    EventType = "PostSet"
	EventPreDelete  EventType = "PreDelete"
	EventPostDelete EventType = "PostDelete"
	EventPostGet    EventType = "PostGet"

	// Flush Pipeline Events
	EventPreFlushMemtable  EventType = "PreFlushMemtable"
	EventPostFlushMemtable EventType = "PostFlushMemtable"
	EventOnFlushError      EventType = "OnFlushError"
	EventPostSegmentCreate EventType = "PostSegmentCreate"

	// WAL Events
	EventPostWALRotate   EventType = "PostWALRotate"
	EventPostWALRecovery EventType = "PostWALRecovery"

	// Engine Lifecycle Events
	EventPreStartEngine  EventType = "PreStartEngine"
	EventPostStartEngine EventType = "PostStartEngine"
	EventPreCloseEngine  EventType = "PreCloseEngine"
	EventPostCloseEngine EventType = "PostCloseEngine"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookListener receives events it was registered for.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners; lower numbers run first.
	Priority() int
	// IsAsync requests background execution. It is ignored for Pre events.
	IsAsync() bool
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// NewEvent builds an event of any type. The typed constructors below are preferred.
func NewEvent(eventType EventType, payload interface{}) HookEvent {
	return &BaseEvent{eventType: eventType, payload: payload}
}

// PreSetPayload carries pointers so listeners can rewrite the write before it is logged.
type PreSetPayload struct {
	Key   *string
	Value *string
}

type PostSetPayload struct {
	Key   string
	Value string
}

// PreDeletePayload allows a listener to rewrite or veto a deletion.
type PreDeletePayload struct {
	Key *string
}

type PostDeletePayload struct {
	Key string
}

// PostGetPayload reports where a lookup was resolved.
type PostGetPayload struct {
	Key    string
	Found  bool
	Source string // "memtable", "frozen", "segment" or "" when absent
}

// FlushPayload describes a frozen memtable generation.
type FlushPayload struct {
	GenerationID uint64
	Records      int
	LogicalBytes int64
}

// PostFlushPayload describes a committed flush.
type PostFlushPayload struct {
	GenerationID uint64
	Records      int
	LogicalBytes int64
	SegmentPath  string
	SegmentSize  int64
	Partitions   int
}

// FlushErrorPayload reports a flush that did not commit.
type FlushErrorPayload struct {
	GenerationID uint64
	FrozenWAL    string
	Err          error
}

// SegmentPayload describes a segment file.
type SegmentPayload struct {
	ID         uint64
	Path       string
	Size       int64
	Partitions int
}

type PostWALRotatePayload struct {
	FrozenPath string
	ActivePath string
	Entries    int64
}

type PostWALRecoveryPayload struct {
	Path             string
	RecoveredEntries int
	TruncatedBytes   int64
}

type EngineLifecyclePayload struct {
	DataDir string
}

func NewPreSetEvent(payload PreSetPayload) HookEvent {
	return &BaseEvent{eventType: EventPreSet, payload: payload}
}

func NewPostSetEvent(payload PostSetPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSet, payload: payload}
}

func NewPreDeleteEvent(payload PreDeletePayload) HookEvent {
	return &BaseEvent{eventType: EventPreDelete, payload: payload}
}

func NewPostDeleteEvent(payload PostDeletePayload) HookEvent {
	return &BaseEvent{eventType: EventPostDelete, payload: payload}
}

func NewPostGetEvent(payload PostGetPayload) HookEvent {
	return &BaseEvent{eventType: EventPostGet, payload: payload}
}

func NewPreFlushMemtableEvent(payload FlushPayload) HookEvent {
	return &BaseEvent{eventType: EventPreFlushMemtable, payload: payload}
}

func NewPostFlushMemtableEvent(payload PostFlushPayload) HookEvent {
	return &BaseEvent{eventType: EventPostFlushMemtable, payload: payload}
}

func NewOnFlushErrorEvent(payload FlushErrorPayload) HookEvent {
	return &BaseEvent{eventType: EventOnFlushError, payload: payload}
}

func NewPostSegmentCreateEvent(payload SegmentPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSegmentCreate, payload: payload}
}

func NewPostWALRotateEvent(payload PostWALRotatePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALRotate, payload: payload}
}

func NewPostWALRecoveryEvent(payload PostWALRecoveryPayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALRecovery, payload: payload}
}

func NewPreStartEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreStartEngine, payload: payload}
}

func NewPostStartEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostStartEngine, payload: payload}
}

func NewPreCloseEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreCloseEngine, payload: payload}
}

func NewPostCloseEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostCloseEngine, payload: payload}
}

type registeredListener struct {
	listener HookListener
	priority int
}

// DefaultHookManager keeps listeners per event sorted by priority.
type DefaultHookManager struct {
	listeners map[EventType][]registeredListener
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]registeredListener),
		logger:    logger,
	}
}

// Register adds a listener. Listeners with equal priority keep registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := registeredListener{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	// Clipping forces a copy, so slices already handed to Trigger never change.
	m.listeners[eventType] = slices.Insert(slices.Clip(l), idx, item)
}

// Trigger fires all registered listeners for event in priority order.
// The first failing Pre listener aborts the chain and its error is returned.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()
	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(item registeredListener) {
			defer m.wg.Done()
			if err := item.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
