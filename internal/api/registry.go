package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"parley/internal/models"
	"parley/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// Caller is the verified identity behind an invocation. UserID is empty
// while the identity provider has not synced the user yet.
type Caller struct {
	ExternalID string
	UserID     string
}

// actor returns the caller's user id. A user id supplied in the arguments
// must match it.
func (c Caller) actor(supplied string) (string, error) {
	if c.UserID == "" {
		return "", fmt.Errorf("%w: user %s is not synced yet", models.ErrUnauthenticated, c.ExternalID)
	}
	if supplied != "" && supplied != c.UserID {
		return "", errActAs(supplied)
	}
	return c.UserID, nil
}

func errActAs(id string) error {
	return fmt.Errorf("%w: cannot act as user %s", models.ErrUnauthorized, id)
}

type Handler func(ctx context.Context, caller Caller, args json.RawMessage) (any, error)

type Operation struct {
	Name    string
	Kind    Kind
	Handler Handler
}

// CallerResolver maps a verified external id to the synced user, or nil.
type CallerResolver interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
}

// Registry holds the named queries and mutations.
type Registry struct {
	ops      map[string]Operation
	resolver CallerResolver
}

func newRegistry(resolver CallerResolver) *Registry {
	return &Registry{
		ops:      make(map[string]Operation),
		resolver: resolver,
	}
}

func (r *Registry) register(op Operation) {
	if _, ok := r.ops[op.Name]; ok {
		panic("duplicate operation " + op.Name)
	}
	r.ops[op.Name] = op
}

func (r *Registry) Names(kind Kind) []string {
	var names []string
	for name, op := range r.ops {
		if op.Kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named operation for the caller identified by externalID.
// The caller is resolved inside ctx so that a live subscription also
// tracks the caller's own user record.
func (r *Registry) Invoke(ctx context.Context, kind Kind, name, externalID string, args json.RawMessage) (result any, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "parley/api", string(kind)+" "+name,
		attribute.String("parley.operation", name),
		attribute.String("parley.kind", string(kind)),
	)
	defer func() {
		observability.ObserveOperation(name, string(kind), models.ErrorCode(err), time.Since(start))
		observability.EndSpan(span, err)
	}()

	op, ok := r.ops[name]
	if !ok || op.Kind != kind {
		return nil, fmt.Errorf("%s %s: %w", kind, name, models.ErrNotFound)
	}

	caller := Caller{ExternalID: externalID}
	user, err := r.resolver.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller: %w", err)
	}
	if user != nil {
		caller.UserID = user.ID
	}

	return op.Handler(ctx, caller, args)
}

// decode unmarshals the JSON arguments into a value of type A. Absent
// arguments decode to the zero value.
func decode[A any](raw json.RawMessage) (A, error) {
	var args A
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("%w: invalid arguments: %v", models.ErrValidation, err)
	}
	return args, nil
}

func query[A any](name string, fn func(ctx context.Context, caller Caller, args A) (any, error)) Operation {
	return operation(name, KindQuery, fn)
}

func mutation[A any](name string, fn func(ctx context.Context, caller Caller, args A) (any, error)) Operation {
	return operation(name, KindMutation, fn)
}

func operation[A any](name string, kind Kind, fn func(ctx context.Context, caller Caller, args A) (any, error)) Operation {
	return Operation{
		Name: name,
		Kind: kind,
		Handler: func(ctx context.Context, caller Caller, raw json.RawMessage) (any, error) {
			args, err := decode[A](raw)
			if err != nil {
				return nil, err
			}
			return fn(ctx, caller, args)
		},
	}
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", models.ErrValidation, field)
	}
	return nil
}
