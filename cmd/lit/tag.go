package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tag"
	"github.com/matsen/litreview/internal/tagging"
)

var (
	tagParent   int64
	tagFlat     bool
	copyFrom    int64
	copyTo      int64
	copyConfirm bool
	applyMode   string
	applyDryRun bool
)

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagTreeCmd, tagAddCmd, tagRenameCmd, tagDeleteCmd, tagCopyCmd, tagApplyCmd)
	for _, cmd := range []*cobra.Command{tagTreeCmd, tagAddCmd, tagRenameCmd, tagDeleteCmd, tagApplyCmd} {
		addProjectFlag(cmd)
	}
	tagTreeCmd.Flags().BoolVar(&tagFlat, "flat", false, "List nested names instead of the tree")
	tagAddCmd.Flags().Int64Var(&tagParent, "parent", 0, "Parent tag ID (default the root)")

	tagCopyCmd.Flags().Int64Var(&copyFrom, "from", 0, "Source project ID")
	tagCopyCmd.Flags().Int64Var(&copyTo, "to", 0, "Destination project ID")
	tagCopyCmd.Flags().BoolVar(&copyConfirm, "confirm", false, "Replace the destination's existing tags")
	_ = tagCopyCmd.MarkFlagRequired("from")
	_ = tagCopyCmd.MarkFlagRequired("to")

	tagApplyCmd.Flags().StringVarP(&applyMode, "mode", "m", string(tagging.Append), "append, replace or remove")
	tagApplyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Report what would change without writing")
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage a project's tag taxonomy and assignments",
}

var tagTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the tag taxonomy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		tree, err := svc.GetTagTree(cmd.Context(), userName, projectID)
		if err != nil {
			fail(err)
		}
		if tagFlat {
			output(tree.Flattened, func() {
				for _, f := range tree.Flattened {
					fmt.Printf("%6d  %s\n", f.ID, f.NestedName)
				}
			})
			return nil
		}
		output(tree.Roots, func() { printTree(tree.Roots, "") })
		return nil
	},
}

func printTree(nodes []*tag.Node, indent string) {
	for _, n := range nodes {
		fmt.Printf("%s%s ", indent, n.Name)
		warnColor.Printf("[%d]\n", n.ID)
		printTree(n.Children, indent+"  ")
	}
}

var tagAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		tg, err := svc.AddTag(cmd.Context(), userName, projectID, tagParent, args[0])
		if err != nil {
			fail(err)
		}
		output(tg, func() {
			okColor.Printf("Added tag %d", tg.ID)
			fmt.Printf(" %q at %s\n", tg.Name, tg.Path)
		})
		return nil
	},
}

var tagRenameCmd = &cobra.Command{
	Use:   "rename <tag-id> <name>",
	Short: "Rename a tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tagID := mustParseID("tag", args[0])

		svc, db := mustOpenService()
		defer db.Close()
		if err := svc.RenameTag(cmd.Context(), userName, projectID, tagID, args[1]); err != nil {
			fail(err)
		}
		output(map[string]any{"id": tagID, "name": args[1]}, func() {
			fmt.Printf("Renamed tag %d\n", tagID)
		})
		return nil
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete <tag-id>",
	Short: "Delete a tag, its descendants and their assignments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tagID := mustParseID("tag", args[0])

		svc, db := mustOpenService()
		defer db.Close()
		n, err := svc.DeleteTag(cmd.Context(), userName, projectID, tagID)
		if err != nil {
			fail(err)
		}
		output(map[string]int{"deleted": n}, func() {
			fmt.Printf("Deleted %d tags\n", n)
		})
		return nil
	},
}

var tagCopyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy one project's taxonomy into another",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		n, err := svc.CopyTagTree(cmd.Context(), userName, copyFrom, copyTo, copyConfirm)
		if err != nil {
			fail(err)
		}
		output(map[string]int{"copied": n}, func() {
			fmt.Printf("Copied %d tags from project %d to %d\n", n, copyFrom, copyTo)
		})
		return nil
	},
}

var tagApplyCmd = &cobra.Command{
	Use:   "apply [ref-id:tag-id]...",
	Short: "Add, replace or remove tag assignments in bulk",
	Long: `Edit resolved tag assignments in one all-or-nothing batch. Pairs are
given as ref-id:tag-id arguments, or one per line on stdin when no
arguments are given.

Examples:
  lit tag apply -p 1 12:4 13:4 13:7
  lit tag apply -p 1 --mode replace --dry-run < pairs.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := tagging.ParseMode(applyMode)
		if err != nil {
			fail(err)
		}
		lines := args
		if len(lines) == 0 {
			lines, err = readLines(os.Stdin)
			if err != nil {
				exitWithError(ExitError, "reading stdin: %v", err)
			}
		}
		pairs, err := parsePairs(lines)
		if err != nil {
			fail(err)
		}

		svc, db := mustOpenService()
		defer db.Close()
		res, err := svc.BulkTag(cmd.Context(), userName, projectID, mode, pairs, applyDryRun)
		if err != nil && res == nil {
			fail(err)
		}
		if err != nil {
			printApplyResult(res)
			fail(err)
		}
		printApplyResult(res)
		return nil
	},
}

func printApplyResult(res *tagging.Result) {
	output(res, func() {
		for _, row := range res.Rows {
			status := row.Status
			switch row.Status {
			case tagging.StatusAdded, tagging.StatusRemoved:
				status = okColor.Sprint(status)
			case tagging.StatusBadRef, tagging.StatusBadTag, tagging.StatusDuplicate:
				status = errorColor.Sprint(status)
			}
			fmt.Printf("%4d  ref %d  tag %d  %s\n", row.Row+1, row.RefID, row.TagID, status)
		}
		prefix := ""
		if res.DryRun {
			prefix = "(dry run) "
		}
		headerColor.Printf("%s%s: %d added, %d removed\n", prefix, res.Mode, res.Added, res.Removed)
	})
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// parsePairs parses "ref:tag" lines. Commas and tabs also separate the ids.
func parsePairs(lines []string) ([]storage.TagPair, error) {
	pairs := make([]storage.TagPair, len(lines))
	for i, line := range lines {
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ':' || r == ',' || r == '\t' || r == ' '
		})
		if len(fields) != 2 {
			return nil, storage.InvalidRow(i, "pair", "%q is not ref-id:tag-id", line)
		}
		ref, err1 := strconv.ParseInt(fields[0], 10, 64)
		tg, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 != nil || err2 != nil || ref <= 0 || tg <= 0 {
			return nil, storage.InvalidRow(i, "pair", "%q is not ref-id:tag-id", line)
		}
		pairs[i] = storage.TagPair{RefID: ref, TagID: tg}
	}
	return pairs, nil
}
