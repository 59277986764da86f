package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/iota-uz/orgtree/internal/server"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/configuration"
	"github.com/iota-uz/orgtree/pkg/logging"
)

func newTreeCmd() *cobra.Command {
	var (
		tenant   string
		kindFlag string
		node     string
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the subtree below a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(tenant)
			if err != nil {
				return fmt.Errorf("invalid --tenant: %w", err)
			}
			k, ok := kind.Parse(kindFlag)
			if !ok {
				return fmt.Errorf("unknown kind %q", kindFlag)
			}
			nodeID, err := uuid.Parse(node)
			if err != nil {
				return fmt.Errorf("invalid --node: %w", err)
			}

			conf := configuration.Use()
			pool, err := pgxpool.New(cmd.Context(), conf.Database.Opts)
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx := composables.WithPool(cmd.Context(), pool)
			ctx = composables.WithLogger(ctx, logging.ConsoleLogger(conf.LogrusLogLevel()).WithField("command", "tree"))
			engine := server.BuildHierarchyService(conf)

			root, err := engine.GetNode(ctx, tenantID, k, nodeID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", root.Name, root.ID)

			nodes, err := engine.GetDescendants(ctx, tenantID, k, nodeID)
			if err != nil {
				return err
			}
			depths := map[uuid.UUID]int{nodeID: 0}
			for _, n := range nodes {
				depth := 1
				if n.ParentID != nil {
					if d, ok := depths[*n.ParentID]; ok {
						depth = d + 1
					}
				}
				depths[n.ID] = depth
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s (%s)\n", strings.Repeat("  ", depth), n.Name, n.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&kindFlag, "kind", "department", "hierarchy kind")
	cmd.Flags().StringVar(&node, "node", "", "anchor node id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}
