package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "depscope",
		Short:        "Bounded cycle detection and dependency metrics for code graphs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(context.Background())
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.auditPath, "audit", "", "Append audit events to this file")

	rootCmd.AddCommand(
		newAnalyzeCmd(a),
		newCyclesCmd(a),
		newPathCmd(a),
		newExportCmd(a),
		newSnapshotCmd(a),
		newPublishCmd(a),
		newStoreCmd(a),
	)
	return rootCmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		format     string
		save       bool
		tag        string
		viaWorker  bool
		namespaces []string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Detect cycles and compute dependency metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if viaWorker {
				return a.runBatch(ctx, cmd.OutOrStdout(), namespaces)
			}
			rep, err := a.analyze(ctx)
			if err != nil {
				return err
			}
			if err := renderReport(cmd.OutOrStdout(), rep, format); err != nil {
				return err
			}
			if save {
				return a.saveSnapshot(ctx, cmd.OutOrStdout(), rep, tag)
			}
			return nil
		},
	}
	a.inputFlags(cmd)
	a.detectionFlags(cmd)
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, table or json")
	cmd.Flags().BoolVar(&save, "save", false, "Save the result as a snapshot")
	cmd.Flags().StringVar(&tag, "tag", "", "Tag for the saved snapshot")
	cmd.Flags().BoolVar(&viaWorker, "temporal", false, "Run on the Temporal worker instead of in process")
	cmd.Flags().StringSliceVar(&namespaces, "namespaces", nil, "Namespaces for --temporal (default: the configured namespace)")
	return cmd
}

func newCyclesCmd(a *app) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List circular dependencies without computing metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.detect(cmd.Context(), from)
			if err != nil {
				return err
			}
			renderDetection(cmd.OutOrStdout(), res)
			return nil
		},
	}
	a.inputFlags(cmd)
	a.detectionFlags(cmd)
	cmd.Flags().StringVar(&from, "from", "", "Only search the part of the graph reachable from this node")
	return cmd
}

func newPathCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Find a circular path through two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, found, err := a.circularPath(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "No path from %s to %s\n", args[0], args[1])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.String())
			return nil
		},
	}
	a.inputFlags(cmd)
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the analyzed graph as DOT, Mermaid or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.analyze(cmd.Context())
			if err != nil {
				return err
			}
			out, err := exportGraph(rep, format)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.WriteFile(output, out, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
			return nil
		},
	}
	a.inputFlags(cmd)
	a.detectionFlags(cmd)
	cmd.Flags().StringVar(&format, "format", "dot", "Export format: dot, mermaid or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newSnapshotCmd(a *app) *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, list and compare analysis snapshots",
	}

	var tag string
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Analyze the input and save the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.analyze(cmd.Context())
			if err != nil {
				return err
			}
			return a.saveSnapshot(cmd.Context(), cmd.OutOrStdout(), rep, tag)
		},
	}
	a.inputFlags(saveCmd)
	a.detectionFlags(saveCmd)
	saveCmd.Flags().StringVar(&tag, "tag", "", "Tag for the snapshot")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.snapshots()
			if err != nil {
				return err
			}
			renderSnapshots(cmd.OutOrStdout(), store.List())
			return nil
		},
	}

	var jsonDiff bool
	diffCmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compare two snapshots by id or tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.diffSnapshots(cmd.OutOrStdout(), args[0], args[1], jsonDiff)
		},
	}
	diffCmd.Flags().BoolVar(&jsonDiff, "json", false, "Output the diff as JSON")

	tagCmd := &cobra.Command{
		Use:   "tag <id> <tag>",
		Short: "Tag a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.snapshots()
			if err != nil {
				return err
			}
			return store.Tag(args[0], args[1])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id-or-tag>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.deleteSnapshot(cmd.Context(), args[0])
		},
	}

	snapshotCmd.AddCommand(saveCmd, listCmd, diffCmd, tagCmd, deleteCmd)
	return snapshotCmd
}

func newPublishCmd(a *app) *cobra.Command {
	var (
		similar string
		topK    int
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish node risk profiles to the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.publish(cmd.Context(), cmd.OutOrStdout(), similar, topK)
		},
	}
	a.inputFlags(cmd)
	a.detectionFlags(cmd)
	cmd.Flags().StringVar(&similar, "similar", "", "After publishing, list the nodes most similar to this one")
	cmd.Flags().IntVar(&topK, "limit", 5, "Number of similar nodes to list")
	return cmd
}

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Persist the input graph to Neo4j under a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.storeGraph(cmd.Context(), cmd.OutOrStdout())
		},
	}
	a.inputFlags(cmd)
	return cmd
}
