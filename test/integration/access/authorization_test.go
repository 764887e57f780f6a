// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

//go:build integration

package access_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/fortauth/fort/internal/access"
	accesspg "github.com/fortauth/fort/internal/access/postgres"
	"github.com/fortauth/fort/internal/auth"
	authpg "github.com/fortauth/fort/internal/auth/postgres"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/pkg/errutil"
)

var _ = Describe("Authorization against PostgreSQL", func() {
	var (
		ctx        context.Context
		users      *authpg.UserRepository
		abilities  *accesspg.AbilityRepository
		roles      *accesspg.RoleRepository
		service    *access.Service
		authorizer *access.Authorizer
		alice      *auth.User
		bob        *auth.User
	)

	newUser := func(name string) *auth.User {
		u, err := auth.NewUser(name, name+"@example.com", "hash")
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Create(ctx, u)).To(Succeed())
		return u
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(db.Truncate(ctx)).To(Succeed())

		tables := config.DefaultTables()
		users = authpg.NewUserRepository(db.Pool, tables)
		abilities = accesspg.NewAbilityRepository(db.Pool, tables)
		roles = accesspg.NewRoleRepository(db.Pool, tables)

		alice = newUser("alice")
		bob = newUser("bob")

		graph, err := access.NewGraph(abilities)
		Expect(err).NotTo(HaveOccurred())
		authorizer, err = access.NewAuthorizer(graph, access.AuthorizerConfig{
			ProtectedUsers:   []string{bob.ID.String()},
			ProtectedActions: []string{"profile:*"},
		})
		Expect(err).NotTo(HaveOccurred())
		service, err = access.NewService(access.ServiceConfig{
			Abilities: abilities,
			Roles:     roles,
			Protected: authorizer,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("merges direct and role abilities", func() {
		edit, err := service.CreateAbility(ctx, "posts", "edit", nil, "", "")
		Expect(err).NotTo(HaveOccurred())
		publish, err := service.CreateAbility(ctx, "posts", "publish", access.Ptr("own"), "", "")
		Expect(err).NotTo(HaveOccurred())
		editor, err := service.CreateRole(ctx, "editor", "Editor", nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(service.GrantUserAbility(ctx, alice.ID, edit.ID)).To(Succeed())
		Expect(service.GrantRoleAbility(ctx, editor.ID, publish.ID)).To(Succeed())
		Expect(service.AssignRole(ctx, alice.ID, editor.ID)).To(Succeed())

		Expect(authorizer.Can(ctx, alice, "posts", "edit", nil)).To(BeTrue())
		Expect(authorizer.Can(ctx, alice, "posts", "publish", access.Ptr("own"))).To(BeTrue())
		Expect(authorizer.Can(ctx, alice, "posts", "publish", nil)).To(BeFalse())
		Expect(authorizer.Can(ctx, alice, "posts", "delete", nil)).To(BeFalse())
	})

	It("drops role abilities when the role is soft deleted", func() {
		publish, err := service.CreateAbility(ctx, "posts", "publish", nil, "", "")
		Expect(err).NotTo(HaveOccurred())
		editor, err := service.CreateRole(ctx, "editor", "Editor", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(service.GrantRoleAbility(ctx, editor.ID, publish.ID)).To(Succeed())
		Expect(service.AssignRole(ctx, alice.ID, editor.ID)).To(Succeed())
		Expect(authorizer.Can(ctx, alice, "posts", "publish", nil)).To(BeTrue())

		Expect(service.DeleteRole(ctx, editor.ID)).To(Succeed())
		Expect(authorizer.Can(ctx, alice, "posts", "publish", nil)).To(BeFalse())

		_, err = service.FindRole(ctx, "editor")
		Expect(errors.Is(err, errutil.ErrNotFound)).To(BeTrue())
	})

	It("lets a superadmin do anything", func() {
		root, err := service.CreateAbility(ctx, access.ResourceGlobal, access.ActionSuperadmin, nil, "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(service.GrantUserAbility(ctx, alice.ID, root.ID)).To(Succeed())

		Expect(authorizer.Can(ctx, alice, "anything", "at-all", access.Ptr("x"))).To(BeTrue())
	})

	It("refuses to delete an ability still in use", func() {
		edit, err := service.CreateAbility(ctx, "posts", "edit", nil, "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(service.GrantUserAbility(ctx, alice.ID, edit.ID)).To(Succeed())

		err = service.DeleteAbility(ctx, edit.ID)
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))

		Expect(service.RevokeUserAbility(ctx, alice.ID, edit.ID)).To(Succeed())
		Expect(service.DeleteAbility(ctx, edit.ID)).To(Succeed())
	})

	It("rejects duplicate ability slugs", func() {
		_, err := service.CreateAbility(ctx, "posts", "edit", nil, "", "")
		Expect(err).NotTo(HaveOccurred())
		_, err = service.CreateAbility(ctx, "posts", "edit", nil, "", "")
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))
	})

	It("restricts protected principals to whitelisted actions", func() {
		root, err := service.CreateAbility(ctx, access.ResourceGlobal, access.ActionSuperadmin, nil, "", "")
		Expect(err).NotTo(HaveOccurred())

		err = service.GrantUserAbility(ctx, bob.ID, root.ID)
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindPolicyViolation))

		// Even if the grant is written behind the service's back, only
		// whitelisted actions pass.
		Expect(abilities.GrantToUser(ctx, root.ID, bob.ID)).To(Succeed())
		Expect(authorizer.Can(ctx, bob, "posts", "edit", nil)).To(BeFalse())

		view, err := service.CreateAbility(ctx, "profile", "view", nil, "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(abilities.GrantToUser(ctx, view.ID, bob.ID)).To(Succeed())
		Expect(authorizer.Can(ctx, bob, "profile", "view", nil)).To(BeTrue())
	})
})
