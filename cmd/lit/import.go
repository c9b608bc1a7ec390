package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matsen/litreview/internal/identifier"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/service"
)

var (
	importSource string
	importTitle  string
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importSearchCmd, importIDsCmd, importRISCmd, importPDFCmd,
		importRefreshCmd, importListCmd, importDeleteCmd)

	for _, cmd := range []*cobra.Command{importSearchCmd, importIDsCmd, importRISCmd, importPDFCmd, importListCmd, importDeleteCmd} {
		addProjectFlag(cmd)
	}
	for _, cmd := range []*cobra.Command{importSearchCmd, importIDsCmd} {
		cmd.Flags().StringVarP(&importSource, "source", "s", "pubmed", "Source to query (pubmed, hero)")
		cmd.Flags().StringVarP(&importTitle, "title", "t", "", "Batch title")
	}
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import references into a project",
	Long: `Import references from external sources into a project.

Every import creates a batch. Records already in the project, matched by
PMID, HERO id, DOI or database accession, are attached to the new batch
instead of duplicated.`,
}

func mustParseSource(s string) identifier.Source {
	src, err := identifier.ParseSource(s)
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}
	return src
}

func runImport(cmd *cobra.Command, req service.ImportRequest) error {
	svc, db := mustOpenService()
	defer db.Close()

	res, err := svc.SubmitImport(cmd.Context(), userName, projectID, req)
	if err != nil {
		fail(err)
	}
	output(res, func() { printImportResult(res) })
	return nil
}

var importSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Import every hit of a PubMed or HERO search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, service.ImportRequest{
			Kind:   service.ImportSearch,
			Source: mustParseSource(importSource),
			Query:  args[0],
			Title:  importTitle,
		})
	},
}

var importIDsCmd = &cobra.Command{
	Use:   "ids <id>...",
	Short: "Import records by PMID or HERO id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, service.ImportRequest{
			Kind:   service.ImportIDs,
			Source: mustParseSource(importSource),
			IDs:    args,
			Title:  importTitle,
		})
	},
}

var importRISCmd = &cobra.Command{
	Use:   "ris <file>",
	Short: "Import a RIS export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			exitWithError(ExitError, "opening %s: %v", args[0], err)
		}
		defer f.Close()

		return runImport(cmd, service.ImportRequest{
			Kind:     service.ImportRIS,
			FileName: filepath.Base(args[0]),
			File:     f,
		})
	},
}

var importPDFCmd = &cobra.Command{
	Use:   "pdf <file>...",
	Short: "Import PDFs by the DOI printed in them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, service.ImportRequest{Kind: service.ImportPDF, Paths: args})
	},
}

var importRefreshCmd = &cobra.Command{
	Use:   "refresh <batch-id>",
	Short: "Re-run a search batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID := mustParseID("batch", args[0])

		svc, db := mustOpenService()
		defer db.Close()
		res, err := svc.RefreshImport(cmd.Context(), userName, batchID)
		if err != nil {
			fail(err)
		}
		output(res, func() { printImportResult(res) })
		return nil
	},
}

var importListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's import batches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		batches, err := svc.ListImports(cmd.Context(), userName, projectID)
		if err != nil {
			fail(err)
		}
		if batches == nil {
			batches = []reference.ImportBatch{}
		}
		output(batches, func() {
			for _, b := range batches {
				label := b.Title
				if label == "" {
					label = b.Query
				}
				if label == "" {
					label = b.FileName
				}
				fmt.Printf("%4d  %-7s %-6s %s  %s\n", b.ID, b.Source, b.Kind, b.CreatedAt, truncateString(label, ListTitleMaxLen))
			}
		})
		return nil
	},
}

var importDeleteCmd = &cobra.Command{
	Use:   "delete <batch-id>",
	Short: "Delete a batch and the references only it introduced",
	Long: `Delete an import batch. References the batch introduced are deleted too,
unless they are tagged, belong to another batch or have been promoted;
those are only detached from the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID := mustParseID("batch", args[0])

		svc, db := mustOpenService()
		defer db.Close()
		res, err := svc.DeleteImport(cmd.Context(), userName, projectID, batchID)
		if err != nil {
			fail(err)
		}
		output(res, func() {
			fmt.Printf("Deleted batch %d: %d references deleted, %d kept\n", res.BatchID, len(res.Deleted), len(res.Kept))
		})
		return nil
	},
}

// mustParseID parses a positive id argument.
func mustParseID(what, s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		exitWithError(ExitDataError, "invalid %s id %q", what, s)
	}
	return id
}
