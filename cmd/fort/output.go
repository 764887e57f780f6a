// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/access"
	"github.com/fortauth/fort/internal/auth"
)

// listOptions are shared by the list subcommands.
type listOptions struct {
	page       int
	jsonOutput bool
}

// window converts a 1-based page into limit and offset.
func (o listOptions) window(perPage int) (limit, offset int) {
	if perPage <= 0 {
		perPage = 10
	}
	page := o.page
	if page < 1 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}

type abilityView struct {
	ID       string  `json:"id"`
	Slug     string  `json:"slug"`
	Resource string  `json:"resource"`
	Action   string  `json:"action"`
	Policy   *string `json:"policy,omitempty"`
	Title    string  `json:"title"`
}

type roleView struct {
	ID          string  `json:"id"`
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type sessionView struct {
	ID        string  `json:"id"`
	Agent     *string `json:"agent,omitempty"`
	IP        *string `json:"ip,omitempty"`
	Attempt   bool    `json:"attempt"`
	CreatedAt string  `json:"created_at"`
}

func abilityViews(abilities []*access.Ability) []abilityView {
	views := make([]abilityView, len(abilities))
	for i, a := range abilities {
		views[i] = abilityView{
			ID:       a.ID.String(),
			Slug:     a.Slug,
			Resource: a.Resource,
			Action:   a.Action,
			Policy:   a.Policy,
			Title:    a.Title,
		}
	}
	return views
}

func roleViews(roles []*access.Role) []roleView {
	views := make([]roleView, len(roles))
	for i, r := range roles {
		views[i] = roleView{ID: r.ID.String(), Slug: r.Slug, Title: r.Title, Description: r.Description}
	}
	return views
}

func sessionViews(sessions []*auth.Persistence) []sessionView {
	views := make([]sessionView, len(sessions))
	for i, p := range sessions {
		views[i] = sessionView{
			ID:        p.ID.String(),
			Agent:     p.Agent,
			IP:        p.IP,
			Attempt:   p.Attempt,
			CreatedAt: p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return views
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatAbilitiesTable(views []abilityView) string {
	return table("SLUG\tRESOURCE\tACTION\tPOLICY\tID", len(views), func(w io.Writer, i int) {
		v := views[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.Slug, v.Resource, v.Action, orDash(v.Policy), v.ID)
	})
}

func formatRolesTable(views []roleView) string {
	return table("SLUG\tTITLE\tID", len(views), func(w io.Writer, i int) {
		v := views[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", v.Slug, v.Title, v.ID)
	})
}

func formatSessionsTable(views []sessionView) string {
	return table("ID\tCREATED\tAGENT\tIP", len(views), func(w io.Writer, i int) {
		v := views[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.CreatedAt, orDash(v.Agent), orDash(v.IP))
	})
}

func table(header string, rows int, row func(w io.Writer, i int)) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, header)
	for i := 0; i < rows; i++ {
		row(w, i)
	}
	_ = w.Flush()
	return buf.String()
}

// render writes views as JSON or through the table formatter.
func render[T any](out io.Writer, jsonOutput bool, views []T, tableFn func([]T) string) error {
	if !jsonOutput {
		_, err := io.WriteString(out, tableFn(views))
		return err
	}
	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return oops.Code("OUTPUT_ENCODE_FAILED").Wrap(err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
