package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lexora-ai/rag-core/internal/ingest"
	"github.com/lexora-ai/rag-core/internal/storage"
)

// newIngestCmd creates the ingest subcommand.
func newIngestCmd() *cobra.Command {
	var (
		kbRef  string
		force  bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest markdown files into a knowledge base",
		Long: `Ingest parses each file, segments it into nodes, embeds the node text
and persists everything transactionally. Re-ingesting unchanged content is a
no-op; use --force to rebuild.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			kb, err := svc.store.KnowledgeBases.GetByRef(ctx, kbRef)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("knowledge base not found: %s", kbRef)
				}
				return err
			}

			var bar *progressbar.ProgressBar
			if !outputJSON && isTerminal() && len(args) > 1 {
				bar = progressbar.Default(int64(len(args)), "ingesting")
			}

			var reports []*ingest.Report
			failed := 0
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}

				report, err := svc.pipeline.Run(ctx, ingest.Request{
					KB:       kb,
					FileName: filepath.Base(path),
					Content:  content,
					Force:    force,
					DryRun:   dryRun,
				})
				if err != nil {
					if report == nil {
						return fmt.Errorf("ingest %s: %w", path, err)
					}
					failed++
				}
				reports = append(reports, report)

				if bar != nil {
					_ = bar.Add(1)
				}
			}

			if outputJSON {
				if err := printJSON(reports); err != nil {
					return err
				}
			} else {
				for i, report := range reports {
					name := filepath.Base(args[i])
					switch {
					case report.Status == storage.IngestStatusSuccess && report.Skipped:
						printWarning("%s unchanged, skipped", name)
					case report.Status == storage.IngestStatusSuccess:
						printSuccess("%s ingested", name)
						printKeyValue("file_id", report.FileID)
						printKeyValue("pages", report.Pages)
						printKeyValue("nodes", report.NodeCount)
						printKeyValue("gate", report.Gate.Status)
					default:
						printWarning("%s failed: %s", name, report.Error)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kbRef, "kb", "", "knowledge base name or ID (required)")
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest even when content is unchanged")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and segment without persisting")

	_ = cmd.MarkFlagRequired("kb")

	return cmd
}
