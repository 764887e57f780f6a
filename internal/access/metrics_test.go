// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticGrants struct {
	direct []*Ability
}

func (s staticGrants) UserAbilities(context.Context, ulid.ULID) ([]*Ability, error) {
	return s.direct, nil
}

func (s staticGrants) RoleAbilities(context.Context, ulid.ULID) ([]*Ability, error) {
	return nil, nil
}

func TestMetrics_DecisionsCounted(t *testing.T) {
	graph, err := NewGraph(staticGrants{direct: []*Ability{{Resource: "posts", Action: "view"}}})
	require.NoError(t, err)
	protected := ulid.Make()
	authz, err := NewAuthorizer(graph, AuthorizerConfig{
		ProtectedUsers:   []string{protected.String()},
		ProtectedActions: []string{"*:view"},
	})
	require.NoError(t, err)

	granted := testutil.ToFloat64(decisionsTotal.WithLabelValues("allow", ReasonGranted))
	denied := testutil.ToFloat64(decisionsTotal.WithLabelValues("deny", ReasonNoAbility))
	blocked := testutil.ToFloat64(decisionsTotal.WithLabelValues("deny", ReasonProtected))

	ctx := context.Background()
	_, err = authz.Can(ctx, PrincipalID(ulid.Make()), "posts", "view", nil)
	require.NoError(t, err)
	_, err = authz.Can(ctx, PrincipalID(ulid.Make()), "posts", "edit", nil)
	require.NoError(t, err)
	_, err = authz.Can(ctx, PrincipalID(protected), "posts", "edit", nil)
	require.NoError(t, err)

	assert.Equal(t, granted+1, testutil.ToFloat64(decisionsTotal.WithLabelValues("allow", ReasonGranted)))
	assert.Equal(t, denied+1, testutil.ToFloat64(decisionsTotal.WithLabelValues("deny", ReasonNoAbility)))
	assert.Equal(t, blocked+1, testutil.ToFloat64(decisionsTotal.WithLabelValues("deny", ReasonProtected)))
}
