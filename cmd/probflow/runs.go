package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	probflow "probflow/src"
	"probflow/store"
)

var (
	exportFormat string
	exportOutput string
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"ls"},
	Short:   "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ListRuns(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODEL\tCREATED\tEPOCHS\tSTOPPED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n", r.ID, r.Model, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Epochs, r.Stopped)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := s.LoadRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run:     %s\n", run.ID)
		fmt.Fprintf(out, "Model:   %s\n", run.Model)
		fmt.Fprintf(out, "Created: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Epochs:  %d (stopped=%v)\n\n", run.Epochs, run.Stopped)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERIES\tFIRST\tLAST\tMIN\tMIN EPOCH")
		for _, name := range run.SeriesNames() {
			points := run.Series[name]
			if len(points) == 0 {
				continue
			}
			best := points[0]
			for _, p := range points[1:] {
				if p.Value < best.Value || math.IsNaN(best.Value) {
					best = p
				}
			}
			fmt.Fprintf(w, "%s\t%.6g\t%.6g\t%.6g\t%d\n", name, points[0].Value, points[len(points)-1].Value, best.Value, best.Epoch)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if n := len(run.Params); n > 0 {
			last := run.Params[n-1]
			fmt.Fprintf(out, "\nPosterior means at epoch %d:\n", last.Epoch)
			names := make([]string, 0, len(last.Values))
			for name := range last.Values {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-8s %s\n", name, formatFloats(last.Values[name]))
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as JSON or binary protobuf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := s.LoadRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var b []byte
		switch exportFormat {
		case "json":
			b, err = store.MarshalRunJSON(run)
		case "proto":
			b, err = store.EncodeRun(run)
		default:
			return errors.Errorf("unknown format %q (json or proto)", exportFormat)
		}
		if err != nil {
			return err
		}
		if exportOutput == "" || exportOutput == "-" {
			_, err = cmd.OutOrStdout().Write(b)
			return err
		}
		return errors.Wrap(os.WriteFile(exportOutput, b, 0o644), "failed to write export")
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <run-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a recorded run",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
		return nil
	},
}

var distsCmd = &cobra.Command{
	Use:   "dists",
	Short: "List available distributions and their default arguments",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDEFAULTS\tLIKELIHOOD")
		for _, name := range probflow.Distributions() {
			defaults, _ := probflow.DefaultArgs(name)
			keys := make([]string, 0, len(defaults))
			for k := range defaults {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = fmt.Sprintf("%s=%g", k, defaults[k])
			}
			_, hasLoc := defaults["loc"]
			_, hasScale := defaults["scale"]
			fmt.Fprintf(w, "%s\t%s\t%v\n", name, strings.Join(parts, " "), hasLoc && hasScale)
		}
		return w.Flush()
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "json or proto")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
}
