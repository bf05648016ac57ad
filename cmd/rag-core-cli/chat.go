package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lexora-ai/rag-core/internal/chat"
	"github.com/lexora-ai/rag-core/internal/storage"
)

// newChatCmd creates the chat subcommand.
func newChatCmd() *cobra.Command {
	var (
		kbRef          string
		conversationID string
		showHits       bool
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask a question against a knowledge base",
		Long: `Chat runs the full pipeline: retrieval, generation and evaluation. The
answer is released only when the evaluation gate passes; otherwise the turn
is reported as blocked with the gate reasons.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			req := chat.Request{KBRef: kbRef, Query: query}
			if conversationID != "" {
				id, err := uuid.Parse(conversationID)
				if err != nil {
					return fmt.Errorf("invalid conversation id: %s", conversationID)
				}
				req.ConversationID = &id
			}
			if showHits || debug {
				req.Context = map[string]interface{}{"return_hits": true}
				if debug {
					req.Context["debug"] = true
				}
			}

			var spin *spinner.Spinner
			if !outputJSON && isTerminal() {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				spin.Suffix = " thinking..."
				spin.Start()
			}

			resp, err := svc.orchestrator.Ask(ctx, req)
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return err
			}

			if outputJSON {
				if err := printJSON(resp); err != nil {
					return err
				}
			} else {
				printChatResponse(resp)
			}

			if resp.Status != storage.MessageStatusSuccess {
				fmt.Fprintf(os.Stderr, "status=%s\n", resp.Status)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kbRef, "kb", "", "knowledge base name or ID (required)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	cmd.Flags().BoolVar(&showHits, "hits", false, "show retrieval hits")
	cmd.Flags().BoolVar(&debug, "debug", false, "persist and show intermediate retrieval stages")

	_ = cmd.MarkFlagRequired("kb")

	return cmd
}

func printChatResponse(resp *chat.Response) {
	switch resp.Status {
	case storage.MessageStatusSuccess:
		if resp.AnswerState == "partial" {
			printWarning("Answer released with warnings")
		}
		fmt.Println(resp.Answer)
		if len(resp.Citations) > 0 {
			fmt.Println()
			for i, c := range resp.Citations {
				printKeyValue(fmt.Sprintf("citation %d", i+1), c.NodeID)
			}
		}
	case storage.MessageStatusBlocked:
		printWarning("Answer blocked by the evaluation gate")
		for _, reason := range resp.Evaluation.Reasons {
			printKeyValue("reason", reason)
		}
	default:
		printWarning("Turn failed")
	}

	fmt.Println()
	printKeyValue("conversation", resp.ConversationID)
	printKeyValue("message", resp.MessageID)
	printKeyValue("retrieval", resp.Retrieval.Status)
	printKeyValue("generation", resp.Generation.Status)
	printKeyValue("evaluation", resp.Evaluation.Status)

	if len(resp.Hits) > 0 {
		fmt.Println()
		for _, h := range resp.Hits {
			excerpt := h.Excerpt
			if len(excerpt) > 100 {
				excerpt = excerpt[:100] + "..."
			}
			fmt.Printf("  %2d. [%.3f] p%d %s\n", h.Rank, h.Score, h.Page, excerpt)
		}
	}
}
