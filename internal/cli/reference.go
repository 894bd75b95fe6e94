package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/prorroga-chain-server/internal/reference"
)

func newReferenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Validate and export reference data",
	}

	cmd.AddCommand(newReferenceValidateCmd())
	cmd.AddCommand(newReferenceExportCmd())
	return cmd
}

func newReferenceValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:         "validate",
		Short:       "Check that a reference data file compiles",
		Example:     "  prorrogactl reference validate --file ref.json",
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			snap, err := reference.LoadFile(file)
			if err != nil {
				return fmt.Errorf("%s is invalid: %w", file, err)
			}
			stats := snap.Stats()
			if cc.Format == "json" {
				return cc.printJSON(stats)
			}

			fmt.Fprintf(cc.Out, "%s is valid\n", file)
			table := tablewriter.NewWriter(cc.Out)
			table.Header("Table", "Entries")
			table.Append([]string{"version", stats.Version})
			table.Append([]string{"chapters", strconv.Itoa(stats.Chapters)})
			table.Append([]string{"blocks", strconv.Itoa(stats.Blocks)})
			table.Append([]string{"codes", strconv.Itoa(stats.Codes)})
			table.Append([]string{"groups", strconv.Itoa(stats.Groups)})
			table.Append([]string{"exclusions", strconv.Itoa(stats.Exclusions)})
			table.Append([]string{"directional rules", strconv.Itoa(stats.Directional)})
			table.Append([]string{"thresholds", fmt.Sprintf("%d / %d / %d",
				stats.Thresholds.Informational, stats.Thresholds.High, stats.Thresholds.Critical)})
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "reference data JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newReferenceExportCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:         "export",
		Short:       "Write the built-in reference tables as JSON, a starting point for custom data",
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if file != "" && file != "-" {
				f, err := os.Create(file)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", file, err)
				}
				defer f.Close()
				out = f
			}
			return reference.Encode(out, reference.DefaultDocument())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default stdout)")
	return cmd
}
