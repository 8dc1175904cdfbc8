package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"flow/internal/comfy"
	"flow/internal/workflow"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Inspect and edit node-graph workflows in API format",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log edits to stderr")

	logger := func() zerolog.Logger {
		if !verbose {
			return zerolog.Nop()
		}
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	}

	root.AddCommand(anchorsCmd(logger))
	root.AddCommand(loraCmd(logger))
	root.AddCommand(lintCmd(logger))
	root.AddCommand(graphCmd())
	root.AddCommand(assetsCmd(logger))
	root.AddCommand(submitCmd(logger))
	return root
}

// ─── anchors ──────────────────────────────────────────────────────────────────

func anchorsCmd(logger func() zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "anchors <workflow.json>",
		Short: "List model sources and their adapter chains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			editor := workflow.NewChainEditor(doc, logger())
			out := cmd.OutOrStdout()

			anchors := editor.IdentifyAnchors()
			if len(anchors) == 0 {
				fmt.Fprintln(out, "no model sources found")
				return nil
			}
			for _, a := range anchors {
				fmt.Fprintf(out, "%d  %s\n", a.ID, a.DisplayName())
				chain, err := editor.Chain(a.ID)
				if err != nil {
					fmt.Fprintf(out, "    ! %v\n", err)
					continue
				}
				for _, id := range chain {
					n, _ := doc.Node(id)
					fmt.Fprintf(out, "    └ %d  %v @ %v\n", id,
						n.Inputs[workflow.AssetInput].Literal(),
						n.Inputs[workflow.StrengthInput].Literal())
				}
			}
			return nil
		},
	}
}

// ─── lora ─────────────────────────────────────────────────────────────────────

func loraCmd(logger func() zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lora",
		Short: "Add or remove adapter nodes",
	}
	cmd.AddCommand(loraAddCmd(logger), loraRemoveCmd(logger))
	return cmd
}

func loraAddCmd(logger func() zerolog.Logger) *cobra.Command {
	var (
		asset    string
		strength float64
		output   string
	)

	cmd := &cobra.Command{
		Use:   "add <workflow.json> <anchor-id>",
		Short: "Append an adapter to an anchor's chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			anchor, err := workflow.ParseNodeID(args[1])
			if err != nil {
				return err
			}

			editor := workflow.NewChainEditor(doc, logger())
			id, err := editor.InsertAdapter(anchor)
			if err != nil {
				return err
			}
			params := workflow.AdapterParams{Strength: &strength}
			if asset != "" {
				params.Asset = &asset
			}
			if err := editor.SetAdapterParams(id, params); err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "added adapter %d\n", id)
			return writeWorkflow(cmd.OutOrStdout(), output, doc)
		},
	}

	cmd.Flags().StringVar(&asset, "asset", "", "adapter file to load")
	cmd.Flags().Float64Var(&strength, "strength", workflow.DefaultStrength, "adapter strength (0..5)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to this file instead of stdout")
	return cmd
}

func loraRemoveCmd(logger func() zerolog.Logger) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "remove <workflow.json> <adapter-id>",
		Short: "Remove an adapter and reconnect its consumers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			id, err := workflow.ParseNodeID(args[1])
			if err != nil {
				return err
			}

			result, err := workflow.NewChainEditor(doc, logger()).RemoveAdapter(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "removed adapter %d (%s)\n", id, result.Outcome)
			return writeWorkflow(cmd.OutOrStdout(), output, doc)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to this file instead of stdout")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(logger func() zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <workflow.json>",
		Short: "Report dangling edges and unwalkable adapter chains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			problems := lint(doc, logger())
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintln(out, p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d problem(s) found", len(problems))
			}
			fmt.Fprintf(out, "OK: %d nodes\n", doc.Len())
			return nil
		},
	}
}

func lint(doc *workflow.Document, logger zerolog.Logger) []string {
	var problems []string
	for _, e := range doc.DanglingEdges() {
		problems = append(problems, fmt.Sprintf("node %d input %q references missing node %d", e.Node, e.Input, e.Ref.Source))
	}
	editor := workflow.NewChainEditor(doc, logger)
	for _, a := range editor.IdentifyAnchors() {
		if _, err := editor.Chain(a.ID); err != nil {
			problems = append(problems, fmt.Sprintf("anchor %d: %v", a.ID, err))
		}
	}
	return problems
}

// ─── graph ────────────────────────────────────────────────────────────────────

func graphCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "graph <workflow.json>",
		Short: "Render a workflow as a Graphviz DOT digraph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			dot, err := doc.ToDOT(name)
			if err != nil {
				return fmt.Errorf("render: %w", err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), dot)
			return err
		},
	}

	cmd.Flags().StringVar(&name, "name", "workflow", "graph name")
	return cmd
}

// ─── upstream ─────────────────────────────────────────────────────────────────

func assetsCmd(logger func() zerolog.Logger) *cobra.Command {
	var comfyURL string

	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List the adapter files the server can load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			assets, err := comfy.NewClient(comfyURL, logger()).ListAdapterAssets(ctx)
			if err != nil {
				return err
			}
			for _, a := range assets {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&comfyURL, "comfy", "http://127.0.0.1:8188", "node-graph server address")
	return cmd
}

func submitCmd(logger func() zerolog.Logger) *cobra.Command {
	var comfyURL string

	cmd := &cobra.Command{
		Use:   "submit <workflow.json>",
		Short: "Queue a workflow on the server once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			resp, err := comfy.NewClient(comfyURL, logger()).SubmitPrompt(ctx, doc, uuid.New().String())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "prompt %s queued as #%d\n", resp.PromptID, resp.Number)
			return nil
		},
	}

	cmd.Flags().StringVar(&comfyURL, "comfy", "http://127.0.0.1:8188", "node-graph server address")
	return cmd
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func readWorkflow(path string) (*workflow.Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	doc, err := workflow.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return doc, nil
}

func writeWorkflow(stdout io.Writer, path string, doc *workflow.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
