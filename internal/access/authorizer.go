// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fortauth/fort/internal/logging"
)

var tracer = otel.Tracer("fort/access")

// AuthorizerConfig configures the authorization facade.
type AuthorizerConfig struct {
	// ProtectedUsers lists principal ids restricted to ProtectedActions.
	// Entries are parsed as ULIDs; surrounding space and case are ignored.
	ProtectedUsers []string

	// ProtectedActions are glob patterns over "resource:action" that a
	// protected principal may still perform.
	ProtectedActions []string

	Logger *slog.Logger
}

// Authorizer is the single entry point for "may principal do X?".
type Authorizer struct {
	graph     *Graph
	protected map[ulid.ULID]struct{}
	whitelist []glob.Glob
	logger    *slog.Logger
}

// NewAuthorizer compiles the protected whitelist and returns an Authorizer.
func NewAuthorizer(graph *Graph, cfg AuthorizerConfig) (*Authorizer, error) {
	if graph == nil {
		return nil, oops.Code("ACCESS_INVALID_CONFIG").Errorf("graph is required")
	}

	protected := make(map[ulid.ULID]struct{}, len(cfg.ProtectedUsers))
	for _, raw := range cfg.ProtectedUsers {
		id, err := ulid.ParseStrict(strings.TrimSpace(raw))
		if err != nil {
			return nil, oops.Code("ACCESS_INVALID_CONFIG").
				With("protected_user", raw).
				Wrapf(err, "parse protected user id")
		}
		protected[id] = struct{}{}
	}

	whitelist := make([]glob.Glob, 0, len(cfg.ProtectedActions))
	for _, pattern := range cfg.ProtectedActions {
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return nil, oops.Code("ACCESS_INVALID_CONFIG").
				With("pattern", pattern).
				Wrapf(err, "compile protected action pattern")
		}
		whitelist = append(whitelist, g)
	}

	return &Authorizer{
		graph:     graph,
		protected: protected,
		whitelist: whitelist,
		logger:    logging.OrDiscard(cfg.Logger),
	}, nil
}

// IsProtected reports whether id belongs to a protected account.
func (a *Authorizer) IsProtected(id ulid.ULID) bool {
	_, ok := a.protected[id]
	return ok
}

// Can decides whether principal may perform action on resource under policy.
// Protected principals are confined to the whitelist before any ability is
// consulted. Superadmin allows everything else; otherwise the graph decides.
func (a *Authorizer) Can(ctx context.Context, principal Principal, resource, action string, policy *string) (allowed bool, err error) {
	start := time.Now()
	id := principal.PrincipalID()

	ctx, span := tracer.Start(ctx, "access.can",
		trace.WithAttributes(
			attribute.String("principal.id", id.String()),
			attribute.String("ability.resource", resource),
			attribute.String("ability.action", action),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("access.allowed", allowed))
		span.End()
	}()

	if a.IsProtected(id) && !a.whitelisted(resource, action) {
		recordDecision(start, false, ReasonProtected)
		a.logger.DebugContext(ctx, "protected principal denied",
			"principal_id", id.String(), "resource", resource, "action", action)
		return false, nil
	}

	set, err := a.graph.EffectiveSet(ctx, id)
	if err != nil {
		recordDecision(start, false, ReasonError)
		return false, err
	}

	allowed, reason := a.decide(set, resource, action, policy)
	recordDecision(start, allowed, reason)
	return allowed, nil
}

// CanSet decides against an already-resolved ability set. It applies the
// same ordering as Can without touching the store.
func (a *Authorizer) CanSet(id ulid.ULID, set AbilitySet, resource, action string, policy *string) bool {
	start := time.Now()
	if a.IsProtected(id) && !a.whitelisted(resource, action) {
		recordDecision(start, false, ReasonProtected)
		return false
	}
	allowed, reason := a.decide(set, resource, action, policy)
	recordDecision(start, allowed, reason)
	return allowed
}

func (a *Authorizer) decide(set AbilitySet, resource, action string, policy *string) (bool, string) {
	if set.IsSuperadmin() {
		return true, ReasonSuperadmin
	}
	if set.Has(resource, action, policy) {
		return true, ReasonGranted
	}
	return false, ReasonNoAbility
}

func (a *Authorizer) whitelisted(resource, action string) bool {
	subject := resource + ":" + action
	for _, g := range a.whitelist {
		if g.Match(subject) {
			return true
		}
	}
	return false
}
