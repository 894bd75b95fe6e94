package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/prorroga-chain-server/internal/scoring"
	"github.com/prorroga-chain-server/internal/service"
)

func newScoreCmd() *cobra.Command {
	var (
		gap     int
		earlier string
	)

	cmd := &cobra.Command{
		Use:   "score CODE_A CODE_B",
		Short: "Score the correlation between two diagnosis codes",
		Long: "Score how likely two diagnosis codes describe the same underlying condition.\n" +
			"Without --gap the temporal factor is neutral.",
		Example: "  prorrogactl score A09 K52 --gap 5 --earlier A09",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			params := &service.ScoreCorrelationParams{
				CodeA:       args[0],
				CodeB:       args[1],
				EarlierCode: earlier,
			}
			if cmd.Flags().Changed("gap") {
				params.DayGap = scoring.Gap(gap)
			}

			result, err := cc.Service.ScoreCorrelation(cmd.Context(), params)
			if err != nil {
				return err
			}
			if cc.Format == "json" {
				return cc.printJSON(result)
			}
			return printScore(cc, result)
		},
	}

	cmd.Flags().IntVar(&gap, "gap", 0, "days between the end of the earlier leave and the start of the next")
	cmd.Flags().StringVar(&earlier, "earlier", "", "which code came first (enables directional rules)")
	return cmd
}

func printScore(cc *CLIContext, r *scoring.Result) error {
	fmt.Fprintf(cc.Out, "Pair:           %s / %s\n", r.CodeA, r.CodeB)
	fmt.Fprintf(cc.Out, "Confidence:     %.1f (%s)\n", r.Confidence, r.Tier)
	fmt.Fprintf(cc.Out, "Correlated:     %t\n", r.IsCorrelated)
	fmt.Fprintf(cc.Out, "Prórroga grade: %t\n", r.IsProrrogaGrade)
	fmt.Fprintf(cc.Out, "Base:           %s %s (%.1f)\n", r.Explanation.Base, r.Explanation.BaseSource, r.Explanation.BaseConfidence)
	if r.Explanation.RequiresReview {
		fmt.Fprintf(cc.Out, "Review:         %s\n", r.Explanation.Rationale)
	}
	if len(r.Explanation.Steps) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(cc.Out)
	table.Header("Modifier", "Detail", "Before", "After")
	for _, st := range r.Explanation.Steps {
		table.Append([]string{
			string(st.Modifier),
			st.Detail,
			fmt.Sprintf("%.1f", st.Before),
			fmt.Sprintf("%.1f", st.After),
		})
	}
	return table.Render()
}
