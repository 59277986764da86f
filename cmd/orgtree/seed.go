package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/iota-uz/orgtree/internal/server"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/configuration"
	"github.com/iota-uz/orgtree/pkg/logging"
)

// seedNames is a small org chart used for local development: each top-level
// entry becomes a root, nested entries become children.
var seedNames = map[string][]string{
	"Head Office": {"Finance", "People Operations", "Engineering"},
	"Engineering": {"Platform", "Product", "QA"},
	"Platform":    {"Infrastructure", "Data"},
}

func newSeedCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate a sample tree for every hierarchy kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(tenant)
			if err != nil {
				return fmt.Errorf("invalid --tenant: %w", err)
			}
			conf := configuration.Use()
			pool, err := pgxpool.New(cmd.Context(), conf.Database.Opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := composables.WithPool(cmd.Context(), pool)
			ctx = composables.WithLogger(ctx, logging.ConsoleLogger(conf.LogrusLogLevel()).WithField("command", "seed"))
			engine := server.BuildHierarchyService(conf)
			for _, k := range kind.All() {
				rootID, err := seedKind(ctx, engine, tenantID, k)
				if err != nil {
					return fmt.Errorf("seed %s: %w", k, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s root: %s\n", k, rootID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func seedKind(ctx context.Context, engine *services.HierarchyService, tenantID uuid.UUID, k kind.Kind) (uuid.UUID, error) {
	created := map[string]uuid.UUID{}
	root, err := engine.CreateNode(ctx, tenantID, k, services.CreateNodeInput{Name: "Head Office"})
	if err != nil {
		return uuid.Nil, err
	}
	created["Head Office"] = root.ID

	// Walk parents in insertion waves until every named child exists.
	for len(created) < countSeedNames() {
		progressed := false
		for parent, children := range seedNames {
			parentID, ok := created[parent]
			if !ok {
				continue
			}
			for _, name := range children {
				if _, ok := created[name]; ok {
					continue
				}
				node, err := engine.CreateNode(ctx, tenantID, k, services.CreateNodeInput{Name: name, ParentID: &parentID})
				if err != nil {
					return uuid.Nil, err
				}
				created[name] = node.ID
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return root.ID, nil
}

func countSeedNames() int {
	seen := map[string]struct{}{"Head Office": {}}
	for _, children := range seedNames {
		for _, name := range children {
			seen[name] = struct{}{}
		}
	}
	return len(seen)
}
