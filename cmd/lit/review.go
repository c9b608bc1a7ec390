package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/matsen/litreview/internal/query"
	"github.com/matsen/litreview/internal/tagging"
)

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewSetCmd, reviewResolveCmd, reviewConflictsCmd)
	for _, cmd := range []*cobra.Command{reviewSetCmd, reviewResolveCmd, reviewConflictsCmd} {
		addProjectFlag(cmd)
	}
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Record reviewer passes and settle conflicts",
}

var reviewSetCmd = &cobra.Command{
	Use:   "set <ref-id> [tag-ids]",
	Short: "Record your tags for a reference",
	Long: `Record your own pass over a reference as a comma-separated tag list. An
empty list records a pass with no tags. Once enough reviewers agree the
tags become the reference's resolved tags; disagreement flags a conflict.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args, false)
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <ref-id> [tag-ids]",
	Short: "Settle a conflict by setting the resolved tags",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args, true)
	},
}

func runReview(cmd *cobra.Command, args []string, resolve bool) error {
	refID := mustParseID("reference", args[0])
	var list string
	if len(args) == 2 {
		list = args[1]
	}
	tagIDs, err := query.ParseIDList("tags", list)
	if err != nil {
		fail(err)
	}

	svc, db := mustOpenService()
	defer db.Close()

	var res *tagging.Resolution
	if resolve {
		res, err = svc.ResolveConflict(cmd.Context(), userName, projectID, refID, tagIDs)
	} else {
		res, err = svc.SetReviewerTags(cmd.Context(), userName, projectID, refID, tagIDs)
	}
	if err != nil {
		fail(err)
	}
	output(res, func() {
		if res.InConflict {
			fmt.Printf("Reference %d %s; resolved tags stay [%s]\n", res.RefID, conflictLabel, formatIDs(res.Tags))
			return
		}
		okColor.Printf("Reference %d", res.RefID)
		fmt.Printf(" resolved to [%s]\n", formatIDs(res.Tags))
	})
	return nil
}

var reviewConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List references whose reviewers disagree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		conflicts, err := svc.Conflicts(cmd.Context(), userName, projectID)
		if err != nil {
			fail(err)
		}
		if conflicts == nil {
			conflicts = []tagging.Conflict{}
		}
		output(conflicts, func() {
			for _, c := range conflicts {
				headerColor.Printf("%6d  %s\n", c.RefID, truncateString(c.Title, ListTitleMaxLen))
				reviewers := make([]string, 0, len(c.Reviewers))
				for r := range c.Reviewers {
					reviewers = append(reviewers, r)
				}
				sort.Strings(reviewers)
				for _, r := range reviewers {
					fmt.Printf("        %s: [%s]\n", r, formatIDs(c.Reviewers[r]))
				}
			}
		})
		return nil
	},
}
