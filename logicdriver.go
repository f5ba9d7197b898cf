// Package logicdriver provides a hierarchical state machine engine driven by
// declarative definitions, with a transaction layer that replicates running
// machines between a server and its clients.
//
// The subpackages hold the implementation. This package re-exports the
// names most programs need.
package logicdriver

import (
	"github.com/anggasct/logicdriver/pkg/builders"
	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/network"
	"github.com/anggasct/logicdriver/pkg/observers"
)

// Definition types
type (
	// Definition is the immutable description of one machine
	Definition = definition.Definition

	// StateDefinition describes a state, conduit, nested machine or reference
	StateDefinition = definition.State

	// TransitionDefinition describes a directed edge between two states
	TransitionDefinition = definition.Transition

	// Library holds definitions by name and resolves references between them
	Library = definition.Library
)

// Runtime types
type (
	// Instance is a running machine bound to a user context
	Instance = core.Instance

	// Option configures an Instance
	Option = core.Option

	// Registry maps node guids to user callbacks
	Registry = core.Registry

	// EvalContext is passed to every callback
	EvalContext = core.EvalContext

	// Guard decides whether a transition or conduit may be entered
	Guard = core.Guard

	// Action runs user logic for a node event
	Action = core.Action

	StateCallbacks      = core.StateCallbacks
	TransitionCallbacks = core.TransitionCallbacks
	ConduitCallbacks    = core.ConduitCallbacks

	// Observer receives lifecycle notifications from an instance
	Observer = core.Observer

	// ExtendedObserver adds state change and error notifications
	ExtendedObserver = core.ExtendedObserver

	// Settings holds engine wide flags
	Settings = core.Settings
)

// Networking types
type (
	// Component replicates an instance over a Transport
	Component = network.Component

	// NetworkOption configures a Component
	NetworkOption = network.Option

	// NetworkSettings selects which side owns state changes and ticks
	NetworkSettings = network.Settings

	// Transport carries envelopes between components
	Transport = network.Transport

	Role       = network.Role
	SyncStatus = network.SyncStatus
)

// Builder types
type (
	StateMachineBuilder = builders.StateMachineBuilder
	WorkflowBuilder     = builders.WorkflowBuilder
	SubmachineBuilder   = builders.SubmachineBuilder
	ValidationBuilder   = builders.ValidationBuilder
	ConditionalActions  = builders.ConditionalActions
)

// Observer types
type (
	LoggingObserver    = observers.LoggingObserver
	LogLevel           = observers.LogLevel
	MetricsObserver    = observers.MetricsObserver
	ValidationObserver = observers.ValidationObserver
	RecordingObserver  = observers.RecordingObserver
)

const (
	KindState        = definition.KindState
	KindConduit      = definition.KindConduit
	KindStateMachine = definition.KindStateMachine
	KindReference    = definition.KindReference

	ConditionGraph       = definition.ConditionGraph
	ConditionAlwaysTrue  = definition.ConditionAlwaysTrue
	ConditionAlwaysFalse = definition.ConditionAlwaysFalse

	RoleNone           = network.RoleNone
	RoleSimulatedProxy = network.RoleSimulatedProxy
	RoleOwningClient   = network.RoleOwningClient
	RoleServer         = network.RoleServer

	LogError   = observers.LogError
	LogWarning = observers.LogWarning
	LogInfo    = observers.LogInfo
	LogDebug   = observers.LogDebug
)

// Definition loading
var (
	// Parse decodes YAML into a resolved library
	Parse = definition.Parse

	// LoadFile parses a single YAML file
	LoadFile = definition.LoadFile

	// LoadDir parses every YAML file of a directory into one library
	LoadDir = definition.LoadDir

	// NewLibrary resolves the given definitions into a library
	NewLibrary = definition.NewLibrary
)

// Runtime constructors and options
var (
	// NewInstance creates an uninitialized instance of a definition
	NewInstance = core.NewInstance

	NewRegistry     = core.NewRegistry
	WithObserver    = core.WithObserver
	WithLibrary     = core.WithLibrary
	WithLogger      = core.WithLogger
	WithRegistry    = core.WithRegistry
	WithSettings    = core.WithSettings
	WithClock       = core.WithClock
	DefaultSettings = core.DefaultSettings
	LoadSettings    = core.LoadSettings
)

// Networking constructors
var (
	// NewComponent wraps an instance for replication
	NewComponent = network.NewComponent

	DefaultNetworkSettings = network.DefaultSettings
	LoadNetworkSettings    = network.LoadSettings
)

// Builder constructors
var (
	NewStateMachineBuilder = builders.NewStateMachineBuilder
	NewWorkflowBuilder     = builders.NewWorkflowBuilder
	NewValidationBuilder   = builders.NewValidationBuilder

	// Conditions holds the stock guards and actions
	Conditions = builders.Conditions
)

// Observer constructors
var (
	// NewLoggingObserver creates a text logging observer at info level
	NewLoggingObserver = observers.NewDefaultLoggingObserver

	// NewCustomLoggingObserver creates a logging observer on any slog logger
	NewCustomLoggingObserver = observers.NewLoggingObserver

	NewMetricsObserver    = observers.NewMetricsObserver
	NewValidationObserver = observers.NewValidationObserver
	NewRecordingObserver  = observers.NewRecordingObserver
)

// Errors
var (
	ErrNotInitialized     = core.ErrNotInitialized
	ErrAlreadyInitialized = core.ErrAlreadyInitialized
	ErrNilContext         = core.ErrNilContext
	ErrDefinitionNotFound = definition.ErrNotFound
	ErrParse              = definition.ErrParse
	ErrNotConnected       = network.ErrNotConnected
)
