// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/fortauth/fort/internal/access"
)

// NewAbilityCmd creates the ability subcommand group.
func NewAbilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ability",
		Short: "Manage abilities",
	}

	var (
		policy string
		slug   string
		title  string
	)
	create := &cobra.Command{
		Use:   "create RESOURCE ACTION",
		Short: "Create an ability",
		Long: `Create an ability for RESOURCE and ACTION. Without --policy the ability
matches every policy of the pair. The slug defaults to resource.action[.policy].`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *string
			if cmd.Flags().Changed("policy") {
				p = &policy
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ability, err := a.access.CreateAbility(ctx, args[0], args[1], p, slug, title)
				if err != nil {
					return err
				}
				cmd.Printf("Created ability %s (%s)\n", ability.Slug, ability.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&policy, "policy", "", "policy qualifier")
	create.Flags().StringVar(&slug, "slug", "", "unique slug")
	create.Flags().StringVar(&title, "title", "", "human readable title")

	del := &cobra.Command{
		Use:   "delete ABILITY",
		Short: "Delete an ability that no role or user holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ability, err := a.access.FindAbility(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.access.DeleteAbility(ctx, ability.ID); err != nil {
					return err
				}
				cmd.Printf("Deleted ability %s\n", ability.Slug)
				return nil
			})
		},
	}

	opts := &listOptions{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List abilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return listAbilities(ctx, cmd.OutOrStdout(), a.access, a.cfg.ItemsPerPage, *opts)
			})
		},
	}
	list.Flags().IntVar(&opts.page, "page", 1, "page number")
	list.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")

	cmd.AddCommand(create, del, list)
	return cmd
}

func listAbilities(ctx context.Context, out io.Writer, svc *access.Service, perPage int, opts listOptions) error {
	limit, offset := opts.window(perPage)
	abilities, err := svc.ListAbilities(ctx, limit, offset)
	if err != nil {
		return err
	}
	return render(out, opts.jsonOutput, abilityViews(abilities), formatAbilitiesTable)
}

// NewRoleCmd creates the role subcommand group.
func NewRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles and their abilities",
	}

	var (
		title       string
		description string
	)
	create := &cobra.Command{
		Use:   "create SLUG",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d *string
			if cmd.Flags().Changed("description") {
				d = &description
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				role, err := a.access.CreateRole(ctx, args[0], title, d)
				if err != nil {
					return err
				}
				cmd.Printf("Created role %s (%s)\n", role.Slug, role.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "human readable title")
	create.Flags().StringVar(&description, "description", "", "role description")

	del := &cobra.Command{
		Use:   "delete ROLE",
		Short: "Soft-delete a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				role, err := a.access.FindRole(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.access.DeleteRole(ctx, role.ID); err != nil {
					return err
				}
				cmd.Printf("Deleted role %s\n", role.Slug)
				return nil
			})
		},
	}

	grant := &cobra.Command{
		Use:   "grant ROLE ABILITY",
		Short: "Attach an ability to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return grantRoleAbility(ctx, a.access, args[0], args[1], true)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke ROLE ABILITY",
		Short: "Detach an ability from a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return grantRoleAbility(ctx, a.access, args[0], args[1], false)
			})
		},
	}

	opts := &listOptions{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List live roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return listRoles(ctx, cmd.OutOrStdout(), a.access, a.cfg.ItemsPerPage, *opts)
			})
		},
	}
	list.Flags().IntVar(&opts.page, "page", 1, "page number")
	list.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")

	cmd.AddCommand(create, del, grant, revoke, list)
	return cmd
}

func grantRoleAbility(ctx context.Context, svc *access.Service, roleRef, abilityRef string, grant bool) error {
	role, err := svc.FindRole(ctx, roleRef)
	if err != nil {
		return err
	}
	ability, err := svc.FindAbility(ctx, abilityRef)
	if err != nil {
		return err
	}
	if grant {
		return svc.GrantRoleAbility(ctx, role.ID, ability.ID)
	}
	return svc.RevokeRoleAbility(ctx, role.ID, ability.ID)
}

func listRoles(ctx context.Context, out io.Writer, svc *access.Service, perPage int, opts listOptions) error {
	limit, offset := opts.window(perPage)
	roles, err := svc.ListRoles(ctx, limit, offset)
	if err != nil {
		return err
	}
	return render(out, opts.jsonOutput, roleViews(roles), formatRolesTable)
}
