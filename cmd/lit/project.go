package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matsen/litreview/internal/project"
	"github.com/matsen/litreview/internal/query"
)

var (
	projectReviewers int

	workflowTitle       string
	workflowAdmission   string
	workflowDescendants bool
	workflowCompletion  string
)

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectReviewersCmd)
	projectCreateCmd.Flags().IntVar(&projectReviewers, "reviewers", 0, "Reviewer passes a reference needs (default from config)")

	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowCreateCmd, workflowListCmd)
	addProjectFlag(workflowCreateCmd)
	addProjectFlag(workflowListCmd)
	workflowCreateCmd.Flags().StringVar(&workflowTitle, "title", "", "Workflow title")
	workflowCreateCmd.Flags().StringVar(&workflowAdmission, "admission", "", "Comma-separated admission tag IDs (empty admits every reference)")
	workflowCreateCmd.Flags().BoolVar(&workflowDescendants, "descendants", false, "Admit references tagged beneath the admission tags")
	workflowCreateCmd.Flags().StringVar(&workflowCompletion, "completion", "", "Comma-separated completion tag IDs")
	_ = workflowCreateCmd.MarkFlagRequired("title")
	_ = workflowCreateCmd.MarkFlagRequired("completion")
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage review projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project and its root tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		p, err := svc.CreateProject(cmd.Context(), userName, args[0], projectReviewers)
		if err != nil {
			fail(err)
		}
		output(p, func() {
			okColor.Printf("Created project %d", p.ID)
			fmt.Printf(" %q (%d reviewers)\n", p.Name, p.RequiredReviewers)
		})
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the projects you can view",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		projects, err := svc.ListProjects(cmd.Context(), userName)
		if err != nil {
			fail(err)
		}
		if projects == nil {
			projects = []project.Project{}
		}
		output(projects, func() {
			for _, p := range projects {
				fmt.Printf("%4d  %s (%d reviewers)\n", p.ID, p.Name, p.RequiredReviewers)
			}
		})
		return nil
	},
}

var projectReviewersCmd = &cobra.Command{
	Use:   "reviewers <project-id> <n>",
	Short: "Set how many reviewer passes a reference needs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			exitWithError(ExitDataError, "invalid project id %q", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			exitWithError(ExitDataError, "invalid reviewer count %q", args[1])
		}

		svc, db := mustOpenService()
		defer db.Close()
		if err := svc.SetRequiredReviewers(cmd.Context(), userName, id, n); err != nil {
			fail(err)
		}
		p, err := svc.GetProject(cmd.Context(), userName, id)
		if err != nil {
			fail(err)
		}
		output(p, func() {
			fmt.Printf("Project %d now needs %d reviewers\n", p.ID, p.RequiredReviewers)
		})
		return nil
	},
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage review workflows",
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Define a workflow by admission and completion tags",
	Long: `Define a workflow. References carrying an admission tag are in the
workflow; those also carrying a completion tag are completed, the rest are
awaiting. Query either stage with 'lit ref list -f workflow_id=N -f workflow_stage=awaiting'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		admission, err := query.ParseIDList("admission", workflowAdmission)
		if err != nil {
			fail(err)
		}
		completion, err := query.ParseIDList("completion", workflowCompletion)
		if err != nil {
			fail(err)
		}
		w := &project.Workflow{
			ProjectID:                   projectID,
			Title:                       workflowTitle,
			AdmissionTags:               admission,
			AdmissionIncludeDescendants: workflowDescendants,
			CompletionTags:              completion,
		}

		svc, db := mustOpenService()
		defer db.Close()
		if err := svc.CreateWorkflow(cmd.Context(), userName, w); err != nil {
			fail(err)
		}
		output(w, func() {
			okColor.Printf("Created workflow %d", w.ID)
			fmt.Printf(" %q\n", w.Title)
		})
		return nil
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, db := mustOpenService()
		defer db.Close()

		workflows, err := svc.ListWorkflows(cmd.Context(), userName, projectID)
		if err != nil {
			fail(err)
		}
		if workflows == nil {
			workflows = []project.Workflow{}
		}
		output(workflows, func() {
			for _, w := range workflows {
				fmt.Printf("%4d  %s  admission [%s] completion [%s]\n", w.ID, w.Title, formatIDs(w.AdmissionTags), formatIDs(w.CompletionTags))
			}
		})
		return nil
	},
}
