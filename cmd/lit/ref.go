package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/litreview/internal/importer"
	"github.com/matsen/litreview/internal/query"
	"github.com/matsen/litreview/internal/reference"
)

var (
	refFilters       []string
	replaceSource    string
	refListCountOnly bool
)

func init() {
	rootCmd.AddCommand(refCmd)
	refCmd.AddCommand(refListCmd, refGetCmd, refDeleteCmd, refReplaceCmd)
	for _, cmd := range []*cobra.Command{refListCmd, refGetCmd, refDeleteCmd, refReplaceCmd} {
		addProjectFlag(cmd)
	}
	refListCmd.Flags().StringArrayVarP(&refFilters, "filter", "f", nil, "Filter as key=value (repeatable)")
	refListCmd.Flags().BoolVar(&refListCountOnly, "count", false, "Only print the number of matches")
	refReplaceCmd.Flags().StringVarP(&replaceSource, "source", "s", "pubmed", "Source of the new identifiers")
}

var refCmd = &cobra.Command{
	Use:   "ref",
	Short: "Query and edit a project's references",
}

var refListCmd = &cobra.Command{
	Use:   "list",
	Short: "List references matching filters",
	Long: `List a project's references. Filters are combined with AND.

Filters:
  search=<words>            title and author words
  year=<year>
  tag_id=<id>               carries the tag, or is only the context when
                            required_tags or pruned_tags are given
  include_descendants=true  ...or any tag beneath it
  required_tags=<ids>       carries all of these (needs tag_id)
  pruned_tags=<ids>         carries nothing in these subtrees (needs tag_id)
  untagged=true             carries no tag (excludes other tag filters)
  anything_tagged=true
  anything_tagged_by_me=true
  partially_tagged=true     some but not enough reviewer passes
  needs_tagging=true        fewer reviewer passes than required
  workflow_id=<id>, workflow_stage=awaiting|completed
  in_conflict=true
  import_batch_id=<id>
  limit=<n>, offset=<n>

Examples:
  lit ref list -p 1 -f tag_id=4 -f include_descendants=true
  lit ref list -p 1 -f untagged=true -f search=arsenic`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := make(map[string]string, len(refFilters))
		for _, f := range refFilters {
			key, val, ok := strings.Cut(f, "=")
			if !ok {
				exitWithError(ExitDataError, "filter %q is not key=value", f)
			}
			params[strings.TrimSpace(key)] = val
		}
		spec, err := query.ParseSpec(params)
		if err != nil {
			fail(err)
		}

		svc, db := mustOpenService()
		defer db.Close()
		page, err := svc.QueryReferences(cmd.Context(), userName, projectID, *spec)
		if err != nil {
			fail(err)
		}
		if page.References == nil {
			page.References = []reference.Reference{}
		}

		if refListCountOnly {
			output(map[string]int{"total": page.Total}, func() { fmt.Println(page.Total) })
			return nil
		}
		output(page, func() {
			for _, ref := range page.References {
				printReferenceLine(ref)
			}
			headerColor.Printf("%d of %d references\n", len(page.References), page.Total)
		})
		return nil
	},
}

var refGetCmd = &cobra.Command{
	Use:   "get <ref-id>",
	Short: "Show a reference with its identifiers, tags and reviews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refID := mustParseID("reference", args[0])

		svc, db := mustOpenService()
		defer db.Close()
		ref, err := svc.GetReference(cmd.Context(), userName, projectID, refID)
		if err != nil {
			fail(err)
		}
		output(ref, func() {
			headerColor.Println(wrapText(ref.Title, DetailTextWrapLen, ""))
			fmt.Printf("%s (%d) %s\n", ref.AuthorsShort, ref.Year, ref.Journal)
			for _, id := range ref.Identifiers {
				fmt.Printf("  %-7s %s\n", id.Source, id.ExternalID)
			}
			fmt.Printf("Tags: [%s]\n", formatIDs(ref.Tags))
			for reviewer, tags := range ref.Reviewers {
				fmt.Printf("  %s: [%s]\n", reviewer, formatIDs(tags))
			}
			if ref.InConflict {
				fmt.Println(conflictLabel)
			}
			if ref.Abstract != "" {
				fmt.Printf("\n  %s\n", wrapText(ref.Abstract, DetailTextWrapLen, "  "))
			}
		})
		return nil
	},
}

var refDeleteCmd = &cobra.Command{
	Use:   "delete <ref-id>",
	Short: "Delete a reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refID := mustParseID("reference", args[0])

		svc, db := mustOpenService()
		defer db.Close()
		if err := svc.DeleteReference(cmd.Context(), userName, projectID, refID); err != nil {
			fail(err)
		}
		output(map[string]int64{"deleted": refID}, func() {
			fmt.Printf("Deleted reference %d\n", refID)
		})
		return nil
	},
}

var refReplaceCmd = &cobra.Command{
	Use:   "replace-ids <ref-id>=<external-id>...",
	Short: "Point references at different external records",
	Long: `Replace the identifier a reference has for one source, e.g. to fix a
wrongly matched PMID:

  lit ref replace-ids -p 1 -s pubmed 12=31415926 13=27182818`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := mustParseSource(replaceSource)
		reps := make([]importer.Replacement, len(args))
		for i, arg := range args {
			ref, ext, ok := strings.Cut(arg, "=")
			if !ok {
				exitWithError(ExitDataError, "argument %q is not ref-id=external-id", arg)
			}
			reps[i] = importer.Replacement{RefID: mustParseID("reference", ref), ExternalID: ext}
		}

		svc, db := mustOpenService()
		defer db.Close()
		n, err := svc.ReplaceIdentifiers(cmd.Context(), userName, projectID, source, reps)
		if err != nil {
			fail(err)
		}
		output(map[string]int{"replaced": n}, func() {
			fmt.Printf("Replaced %d %s identifiers\n", n, source)
		})
		return nil
	},
}
