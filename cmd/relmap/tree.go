package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/domain/sales"
	"relmap/internal/query"
)

func parseRoot(name string, args []string, required bool) (id.ID, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	root := fs.String("root", "", "category id")
	if err := fs.Parse(args); err != nil {
		return id.Nil(), err
	}
	if *root == "" {
		if required {
			return id.Nil(), fmt.Errorf("%s: -root is required", name)
		}
		return id.Nil(), nil
	}
	v, err := id.Parse(*root)
	if err != nil {
		return id.Nil(), fmt.Errorf("%s: invalid -root: %w", name, err)
	}
	return v, nil
}

func (a *app) tree(ctx context.Context, args []string, w io.Writer) error {
	rootID, err := parseRoot("tree", args, false)
	if err != nil {
		return err
	}
	models, err := a.connect(ctx)
	if err != nil {
		return err
	}

	var root entity.Entity
	if !id.IsNil(rootID) {
		if root, err = models.Categories.GetByID(ctx, rootID); err != nil {
			return err
		}
		printCategory(w, root.(*sales.Category), 0)
	}

	order := query.By("Position").Then("Name", query.Asc)
	nodes, err := models.Categories.GetEntityTree(ctx, root, order)
	if err != nil {
		return err
	}
	depth := 0
	if root != nil {
		depth = 1
	}
	for _, n := range nodes {
		if err := printSubtree(ctx, w, n.(*sales.Category), depth); err != nil {
			return err
		}
	}
	return nil
}

// printSubtree walks Children collections populated by GetEntityTree; it
// does not hit storage again.
func printSubtree(ctx context.Context, w io.Writer, c *sales.Category, depth int) error {
	printCategory(w, c, depth)
	children, err := c.Children(ctx)
	if err != nil {
		return err
	}
	for _, child := range children.Items {
		if err := printSubtree(ctx, w, child.(*sales.Category), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func printCategory(w io.Writer, c *sales.Category, depth int) {
	fmt.Fprintf(w, "%s%s (%s)\n", strings.Repeat("  ", depth), c.Name, c.ID)
}

func (a *app) deleteTree(ctx context.Context, args []string, w io.Writer) error {
	rootID, err := parseRoot("delete-tree", args, true)
	if err != nil {
		return err
	}
	models, err := a.connect(ctx)
	if err != nil {
		return err
	}

	root, err := models.Categories.GetByID(ctx, rootID)
	if err != nil {
		return err
	}
	n, err := models.Categories.DeleteEntityTree(ctx, root)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted %d categories\n", n)
	return nil
}
