package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/service"
)

func newChainsCmd() *cobra.Command {
	var (
		file    string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "chains",
		Short: "Build prórroga chains and alerts from a JSON file of leave cases",
		Long: "Read a JSON array of leave cases, group them by subject_id, sort each\n" +
			"subject's cases by start date and build chains, findings and alerts.",
		Example: "  prorrogactl chains --file cases.json\n  cat cases.json | prorrogactl chains --file - -o json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			cases, err := readCases(cmd, file)
			if err != nil {
				return err
			}
			subjects := groupBySubject(cases, subject)
			if len(subjects) == 0 {
				return fmt.Errorf("no cases to analyze")
			}

			batch, err := cc.Service.AnalyzeAll(cmd.Context(), subjects)
			if err != nil {
				return err
			}
			if cc.Format == "json" {
				return cc.printJSON(batch)
			}
			return printBatch(cc, batch)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of leave cases (- for stdin)")
	cmd.Flags().StringVar(&subject, "subject", "", "only analyze this subject")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// groupBySubject splits cases per subject and orders each subject's cases by
// start date, undated cases last. Cases without a subject fall under "unknown".
func groupBySubject(cases []domain.LeaveCase, only string) []service.SubjectCases {
	bySubject := make(map[string][]domain.LeaveCase)
	for _, c := range cases {
		id := c.SubjectID
		if id == "" {
			id = "unknown"
			c.SubjectID = id
		}
		if only != "" && id != only {
			continue
		}
		bySubject[id] = append(bySubject[id], c)
	}

	out := make([]service.SubjectCases, 0, len(bySubject))
	for id, list := range bySubject {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].StartDate, list[j].StartDate
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return a.Before(*b)
			}
		})
		out = append(out, service.SubjectCases{SubjectID: id, Cases: list})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

func printBatch(cc *CLIContext, batch *service.BatchAnalysis) error {
	table := tablewriter.NewWriter(cc.Out)
	table.Header("SUBJECT", "CASES", "CHAINS", "PRORROGAS", "LONGEST", "ALERTS")
	for _, a := range batch.Analyses {
		s := a.Summary
		table.Append([]string{
			a.SubjectID,
			strconv.Itoa(s.TotalCases),
			strconv.Itoa(s.TotalChains),
			strconv.Itoa(s.ProrrogaChains),
			strconv.Itoa(s.LongestChainDays),
			strconv.Itoa(len(a.Alerts)),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, a := range batch.Analyses {
		if a.Result == nil {
			continue
		}
		for _, ch := range a.Result.Chains {
			if !ch.IsProrroga {
				continue
			}
			fmt.Fprintf(cc.Out, "\n%s chain %d: %d days, %s to %s, codes %s\n",
				a.SubjectID, ch.ID, ch.AccumulatedDays,
				ch.StartDate.Format("2006-01-02"), ch.EndDate.Format("2006-01-02"),
				strings.Join(ch.Codes, ", "))
		}
		for _, f := range a.Result.CutFindings {
			fmt.Fprintf(cc.Out, "%s chain cut: chains %d and %d are %d days apart (%s/%s, %.1f)\n",
				a.SubjectID, f.EarlierChainID, f.LaterChainID, f.SeparationDays, f.CodeA, f.CodeB, f.Confidence)
		}
	}

	if len(batch.Alerts) > 0 {
		fmt.Fprintln(cc.Out)
		for _, al := range batch.Alerts {
			fmt.Fprintf(cc.Out, "[%s] %s: %s\n", strings.ToUpper(string(al.Tier)), al.SubjectID, al.Rationale)
		}
	}
	for _, f := range batch.Failures {
		fmt.Fprintf(cc.Out, "FAILED %s: %s\n", f.SubjectID, f.Error)
	}
	return nil
}
