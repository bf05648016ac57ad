package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexora-ai/rag-core/internal/storage"
)

// newKBCmd creates the kb subcommand group.
func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
	}
	cmd.AddCommand(newKBCreateCmd())
	cmd.AddCommand(newKBListCmd())
	return cmd
}

func newKBCreateCmd() *cobra.Command {
	var (
		provider string
		model    string
		dim      int
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a knowledge base with a pinned embedding configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			kb := &storage.KnowledgeBase{
				Name:             name,
				VectorCollection: "kb_" + name,
				EmbedProvider:    provider,
				EmbedModel:       model,
				EmbedDim:         dim,
			}
			if kb.EmbedProvider == "" {
				kb.EmbedProvider = cfg.Embedding.Provider
			}
			if kb.EmbedModel == "" {
				kb.EmbedModel = cfg.Embedding.Model
			}
			if kb.EmbedDim <= 0 {
				kb.EmbedDim = cfg.Embedding.Dimension
			}

			if err := svc.store.KnowledgeBases.Create(ctx, kb); err != nil {
				return fmt.Errorf("create knowledge base: %w", err)
			}

			if outputJSON {
				return printJSON(kb)
			}

			printSuccess("Knowledge base created")
			printKeyValue("id", kb.ID)
			printKeyValue("name", kb.Name)
			printKeyValue("embedding", fmt.Sprintf("%s/%s dim=%d", kb.EmbedProvider, kb.EmbedModel, kb.EmbedDim))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "embed-provider", "", "embedding provider (default from config)")
	cmd.Flags().StringVar(&model, "embed-model", "", "embedding model (default from config)")
	cmd.Flags().IntVar(&dim, "embed-dim", 0, "embedding dimension (default from config)")

	return cmd
}

func newKBListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			kbs, err := svc.store.KnowledgeBases.List(ctx)
			if err != nil {
				return fmt.Errorf("list knowledge bases: %w", err)
			}

			if outputJSON {
				return printJSON(kbs)
			}

			if len(kbs) == 0 {
				fmt.Println("No knowledge bases.")
				return nil
			}
			for _, kb := range kbs {
				fmt.Printf("%s  %s  %s/%s dim=%d\n",
					kb.ID, kb.Name, kb.EmbedProvider, kb.EmbedModel, kb.EmbedDim)
			}
			return nil
		},
	}
}
