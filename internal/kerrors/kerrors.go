// Package kerrors is the typed error taxonomy for the runner kernel.
//
// Every kind is a struct carrying the fields named in its failure, a
// templated Error() message, and an Is<Kind> predicate built on errors.As so
// callers never need to depend on the concrete type.
package kerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Duplicate is raised when a second item with the same id is registered.
type Duplicate struct {
	Kind string
	ID   string
}

func (e *Duplicate) Error() string {
	return fmt.Sprintf("%s %q already registered", e.Kind, e.ID)
}

func NewDuplicate(kind, id string) error { return &Duplicate{Kind: kind, ID: id} }

func IsDuplicate(err error) bool {
	var d *Duplicate
	return errors.As(err, &d)
}

// UnknownItemType is raised when the store is asked to register a value it
// does not recognize as a Task/Resource/Event/Hook/Middleware/Tag.
type UnknownItemType struct {
	Item any
}

func (e *UnknownItemType) Error() string {
	return fmt.Sprintf("unknown item type: %T", e.Item)
}

func NewUnknownItemType(item any) error { return &UnknownItemType{Item: item} }

func IsUnknownItemType(err error) bool {
	var u *UnknownItemType
	return errors.As(err, &u)
}

// DependencyNotFound is raised when a declared dependency has no matching
// registration at lock time.
type DependencyNotFound struct {
	Consumer string
	Key      string
}

func (e *DependencyNotFound) Error() string {
	return fmt.Sprintf("%s not found (required by %s)", e.Key, e.Consumer)
}

func NewDependencyNotFound(consumer, key string) error {
	return &DependencyNotFound{Consumer: consumer, Key: key}
}

func IsDependencyNotFound(err error) bool {
	var d *DependencyNotFound
	return errors.As(err, &d)
}

// EventNotFound is raised when an id passed to EmitEvent does not resolve
// to a registered event. (RunTask of an unknown id fails with
// DependencyNotFound.)
type EventNotFound struct {
	ID string
}

func (e *EventNotFound) Error() string { return fmt.Sprintf("event %q not found", e.ID) }

func NewEventNotFound(id string) error { return &EventNotFound{ID: id} }

func IsEventNotFound(err error) bool {
	var e *EventNotFound
	return errors.As(err, &e)
}

// CircularDependencies is raised by the dependency resolver when the
// resource/task graph contains one or more cycles.
type CircularDependencies struct {
	Cycles []string
}

func (e *CircularDependencies) Error() string {
	return fmt.Sprintf("circular dependencies detected: %s", strings.Join(e.Cycles, "; "))
}

func NewCircularDependencies(cycles []string) error {
	return &CircularDependencies{Cycles: cycles}
}

func IsCircularDependencies(err error) bool {
	var c *CircularDependencies
	return errors.As(err, &c)
}

// EventEmissionCycle is raised when emitting an event would, through hook
// dependencies, require emitting the same event again.
type EventEmissionCycle struct {
	Chain []string
}

func (e *EventEmissionCycle) Error() string {
	return fmt.Sprintf("event emission cycles detected: %s", strings.Join(e.Chain, " -> "))
}

func NewEventEmissionCycle(chain []string) error {
	return &EventEmissionCycle{Chain: chain}
}

func IsEventEmissionCycle(err error) bool {
	var c *EventEmissionCycle
	return errors.As(err, &c)
}

// Locked is raised when a mutation is attempted after the store (or event
// registry) has been locked.
type Locked struct {
	What string
}

func (e *Locked) Error() string { return fmt.Sprintf("%s is locked", e.What) }

func NewLocked(what string) error { return &Locked{What: what} }

func IsLocked(err error) bool {
	var l *Locked
	return errors.As(err, &l)
}

// StoreAlreadyInitialized is raised when Run is invoked twice over the same
// store.
type StoreAlreadyInitialized struct{}

func (e *StoreAlreadyInitialized) Error() string { return "store already initialized" }

func NewStoreAlreadyInitialized() error { return &StoreAlreadyInitialized{} }

func IsStoreAlreadyInitialized(err error) bool {
	var s *StoreAlreadyInitialized
	return errors.As(err, &s)
}

// Validation wraps a schema-validation failure with the failing subject and
// id, per spec.md's "<Subject> validation failed for <id>: <cause>" format.
type Validation struct {
	Subject string
	ID      string
	Cause   error
}

func (e *Validation) Error() string {
	return fmt.Sprintf("%s validation failed for %s: %v", e.Subject, e.ID, e.Cause)
}

func (e *Validation) Unwrap() error { return e.Cause }

func NewValidation(subject, id string, cause error) error {
	return &Validation{Subject: subject, ID: id, Cause: cause}
}

func IsValidation(err error) bool {
	var v *Validation
	return errors.As(err, &v)
}

// PlatformUnsupported is raised when a PlatformAdapter operation has no
// implementation on the current host.
type PlatformUnsupported struct {
	Function string
}

func (e *PlatformUnsupported) Error() string {
	return fmt.Sprintf("platform does not support %s", e.Function)
}

func NewPlatformUnsupported(function string) error {
	return &PlatformUnsupported{Function: function}
}

func IsPlatformUnsupported(err error) bool {
	var p *PlatformUnsupported
	return errors.As(err, &p)
}

// PhantomTaskNotRouted is raised when a tunnel-routed task id has no
// registered runner on the remote side.
type PhantomTaskNotRouted struct {
	TaskID string
}

func (e *PhantomTaskNotRouted) Error() string {
	return fmt.Sprintf("task %q is not routed to any tunnel runner", e.TaskID)
}

func NewPhantomTaskNotRouted(taskID string) error {
	return &PhantomTaskNotRouted{TaskID: taskID}
}

func IsPhantomTaskNotRouted(err error) bool {
	var p *PhantomTaskNotRouted
	return errors.As(err, &p)
}

// MiddlewareTimeout is raised by the timeout builtin.
type MiddlewareTimeout struct {
	TaskID string
	Dur    string
}

func (e *MiddlewareTimeout) Error() string {
	return fmt.Sprintf("task %q exceeded timeout of %s", e.TaskID, e.Dur)
}

func NewMiddlewareTimeout(taskID, dur string) error {
	return &MiddlewareTimeout{TaskID: taskID, Dur: dur}
}

func IsMiddlewareTimeout(err error) bool {
	var m *MiddlewareTimeout
	return errors.As(err, &m)
}

// MiddlewareRateLimitExceeded is raised by the rate-limit builtin.
type MiddlewareRateLimitExceeded struct {
	Name string
	Key  string
}

func (e *MiddlewareRateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit %q exceeded for key %q", e.Name, e.Key)
}

func NewMiddlewareRateLimitExceeded(name, key string) error {
	return &MiddlewareRateLimitExceeded{Name: name, Key: key}
}

func IsMiddlewareRateLimitExceeded(err error) bool {
	var m *MiddlewareRateLimitExceeded
	return errors.As(err, &m)
}

// MiddlewareCircuitBreakerOpen is raised by the circuit-breaker builtin
// while the circuit is open.
type MiddlewareCircuitBreakerOpen struct {
	Name string
}

func (e *MiddlewareCircuitBreakerOpen) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func NewMiddlewareCircuitBreakerOpen(name string) error {
	return &MiddlewareCircuitBreakerOpen{Name: name}
}

func IsMiddlewareCircuitBreakerOpen(err error) bool {
	var m *MiddlewareCircuitBreakerOpen
	return errors.As(err, &m)
}

// DurableExecution marks a failure surfaced from a durable/tunneled
// execution boundary, distinct from an in-process task error.
type DurableExecution struct {
	TaskID string
	Cause  error
}

func (e *DurableExecution) Error() string {
	return fmt.Sprintf("durable execution of %q failed: %v", e.TaskID, e.Cause)
}

func (e *DurableExecution) Unwrap() error { return e.Cause }

func NewDurableExecution(taskID string, cause error) error {
	return &DurableExecution{TaskID: taskID, Cause: cause}
}

func IsDurableExecution(err error) bool {
	var d *DurableExecution
	return errors.As(err, &d)
}

// Deadlock is raised by the Queue when a task re-enters its own queue.
type Deadlock struct {
	Queue string
}

func (e *Deadlock) Error() string { return fmt.Sprintf("deadlock detected on queue %q", e.Queue) }

func NewDeadlock(queue string) error { return &Deadlock{Queue: queue} }

func IsDeadlock(err error) bool {
	var d *Deadlock
	return errors.As(err, &d)
}

// ErrDisposed is returned by any operation attempted after the owning
// Queue/RunResult has been disposed.
var ErrDisposed = errors.New("disposed")

// ErrAborted is not returned anywhere in the kernel: tasks waiting on a
// Queue disposed with Cancel:true fail with ErrDisposed, like any other
// disposal.
var ErrAborted = errors.New("operation was aborted")
