// Package router normalizes raw sensor payloads into device records.
//
// A finite payload-type table maps each supported payload type to one
// normalization handler. Unknown or malformed payloads are dropped without
// error; a failing handler is contained and never halts routing.
package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"fitgrid-session/internal/models"

	"go.uber.org/zap"
)

// PayloadType identifies one supported inbound payload shape.
type PayloadType string

const (
	TypeANT         PayloadType = "ant"
	TypeBLEJumpRope PayloadType = "ble_jumprope"
	TypeVibration   PayloadType = "vibration"
)

// Topic prefixes payload-type resolution keys on.
const (
	fitnessTopicPrefix   = "fitness/"
	vibrationTopicPrefix = "vibration/"
)

// unknownLogWindow throttles diagnostics for unknown payload types.
const unknownLogWindow = 5 * time.Second

// HandlerContext is passed to every normalization handler.
type HandlerContext struct {
	Catalog *Catalog
	Logger  *zap.Logger
}

// HandlerFunc normalizes one payload into a device record. A nil record with
// a nil error means the handler deliberately produced nothing.
type HandlerFunc func(payload models.DevicePayload, ctx HandlerContext) (*models.DeviceRecord, error)

// RouteResult is the outcome of routing one payload.
type RouteResult struct {
	Device      *models.DeviceRecord
	Handled     bool
	HandlerName string
}

type registeredHandler struct {
	name string
	fn   HandlerFunc
}

// Router dispatches inbound payloads to the matching normalization handler.
type Router struct {
	mu          sync.Mutex
	handlers    map[PayloadType]registeredHandler
	catalog     *Catalog
	logger      *zap.Logger
	lastUnknown map[string]time.Time
}

// NewRouter creates a router with the default handler table registered.
func NewRouter(catalog *Catalog, logger *zap.Logger) *Router {
	r := &Router{
		handlers:    make(map[PayloadType]registeredHandler),
		catalog:     catalog,
		logger:      logger,
		lastUnknown: make(map[string]time.Time),
	}
	r.Register(TypeANT, "normalizeANT", normalizeANT)
	r.Register(TypeBLEJumpRope, "normalizeBLEJumpRope", normalizeBLEJumpRope)
	r.Register(TypeVibration, "normalizeVibration", normalizeVibration)
	return r
}

// Register installs a handler for one payload type, replacing any previous
// registration. A nil handler is a programmer error and panics.
func (r *Router) Register(payloadType PayloadType, name string, fn HandlerFunc) {
	if fn == nil {
		panic(fmt.Sprintf("router: nil handler registered for %s", payloadType))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[payloadType] = registeredHandler{name: name, fn: fn}
}

// Route resolves the payload type from topic and shape and dispatches to the
// matching handler. Unknown or malformed payloads return Handled=false. A
// handler that errors or panics is reported as Handled=true with a nil
// device; one bad handler never halts routing.
func (r *Router) Route(payload models.DevicePayload) RouteResult {
	payloadType, ok := r.resolveType(payload)
	if !ok {
		r.logUnknown(payload)
		return RouteResult{Handled: false}
	}

	r.mu.Lock()
	handler, registered := r.handlers[payloadType]
	r.mu.Unlock()
	if !registered {
		r.logUnknown(payload)
		return RouteResult{Handled: false}
	}

	device, err := r.invoke(handler, payload)
	if err != nil {
		r.logger.Error("Payload handler failed",
			zap.String("handler", handler.name),
			zap.String("payload_type", string(payloadType)),
			zap.String("device_id", payload.DeviceID),
			zap.String("topic", payload.Topic),
			zap.Error(err),
		)
		return RouteResult{Handled: true, HandlerName: handler.name}
	}

	return RouteResult{Device: device, Handled: true, HandlerName: handler.name}
}

// invoke runs a handler with panic containment.
func (r *Router) invoke(handler registeredHandler, payload models.DevicePayload) (device *models.DeviceRecord, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			device = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler.fn(payload, HandlerContext{Catalog: r.catalog, Logger: r.logger})
}

// resolveType maps topic and declared shape onto the payload-type table.
func (r *Router) resolveType(payload models.DevicePayload) (PayloadType, bool) {
	if strings.HasPrefix(payload.Topic, vibrationTopicPrefix) {
		return TypeVibration, true
	}
	if strings.HasPrefix(payload.Topic, fitnessTopicPrefix) {
		// fitness payloads must declare a type and carry the required fields
		if payload.DeviceID == "" || payload.Data == nil {
			return "", false
		}
		switch PayloadType(payload.Type) {
		case TypeANT:
			return TypeANT, true
		case TypeBLEJumpRope:
			return TypeBLEJumpRope, true
		}
	}
	return "", false
}

// logUnknown emits at most one diagnostic per unknown type per window.
func (r *Router) logUnknown(payload models.DevicePayload) {
	key := payload.Topic + "|" + payload.Type

	r.mu.Lock()
	last, seen := r.lastUnknown[key]
	now := time.Now()
	throttled := seen && now.Sub(last) < unknownLogWindow
	if !throttled {
		r.lastUnknown[key] = now
	}
	r.mu.Unlock()

	if throttled {
		return
	}
	r.logger.Debug("Dropped unroutable payload",
		zap.String("topic", payload.Topic),
		zap.String("declared_type", payload.Type),
		zap.String("device_id", payload.DeviceID),
	)
}
