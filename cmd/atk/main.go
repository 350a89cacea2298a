package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"annotrack/internal/app"
	"annotrack/internal/blob"
	"annotrack/internal/db"
	"annotrack/internal/domain"
	"annotrack/internal/engine"
	"annotrack/internal/migrate"
	"annotrack/internal/repo"
	"annotrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "atk",
	Short: "Annotrack CLI",
	Long: `Annotrack hands out annotation tasks and tracks the work done on them.
Concepts:
- Workspace: the .annotrack directory holding the database and stored archives.
- Project: owns task categories and the employees annotating for it.
- Task: a unit of annotation handed out until its target coverage is reached.
- Work: one (task, employee) assignment; at most one non-final work per employee.
- Submission: an uploaded annotation archive, validated by the task's checks.
- Freeze: a one-way lock on a work; frozen works and their submissions never change again.
- Event log: diary of changes, view with 'atk log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ANNOTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id or name")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withBareEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.InitProject(ctx, name, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

// --- category ---

func categoryCmd() *cobra.Command {
	cat := &cobra.Command{Use: "category", Short: "Manage task categories"}
	cat.AddCommand(categoryCreateCmd())
	cat.AddCommand(categoryListCmd())
	return cat
}

func categoryCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task category",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCategory(ctx, e.Config.Project.ID, name, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "category name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func categoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List task categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCategories(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

// --- employee ---

func employeeCmd() *cobra.Command {
	emp := &cobra.Command{Use: "employee", Short: "Manage employees"}
	emp.AddCommand(employeeCreateCmd())
	emp.AddCommand(employeeListCmd())
	emp.AddCommand(employeeAssignCmd())
	emp.AddCommand(employeeAdminCmd())
	return emp
}

func employeeCreateCmd() *cobra.Command {
	var username, first, last, email string
	var admin, unassigned bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				if unassigned {
					projectID = ""
				}
				emp, err := e.CreateEmployee(ctx, engine.EmployeeCreateOptions{
					Username:  username,
					FirstName: first,
					LastName:  last,
					Email:     email,
					ProjectID: projectID,
					IsAdmin:   admin,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin privileges")
	cmd.Flags().BoolVar(&unassigned, "unassigned", false, "do not assign to the active project")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func employeeListCmd() *cobra.Command {
	var unassigned, all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.EmployeeFilters{Unassigned: unassigned}
				if !unassigned && !all {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListEmployees(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&unassigned, "unassigned", false, "only employees without a project")
	cmd.Flags().BoolVar(&all, "all", false, "ignore the active project filter")
	return cmd
}

func employeeAssignCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "assign <username>...",
		Short: "Assign employees to the active project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids := make([]string, 0, len(args))
				for _, ref := range args {
					emp, err := resolveEmployee(ctx, e, ref)
					if err != nil {
						return err
					}
					ids = append(ids, emp.ID)
				}
				var projectID *string
				if !detach {
					pid := e.Config.Project.ID
					projectID = &pid
				}
				return e.AssignProject(ctx, ids, projectID, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "remove the project assignment instead")
	return cmd
}

func employeeAdminCmd() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "admin <username>",
		Short: "Grant or revoke admin privileges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := resolveEmployee(ctx, e, args[0])
				if err != nil {
					return err
				}
				return e.Repo.SetEmployeeAdmin(ctx, emp.ID, !revoke)
			})
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "revoke instead of grant")
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskAvailableCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var category, name, checks, comment, taskFile string
	var coverage, priority int
	var freezeDelay float64
	var seedX, seedY, seedZ int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if category == "" || name == "" {
				return fmt.Errorf("--category and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cat, err := e.Repo.GetCategoryByName(ctx, e.Config.Project.ID, category)
				if err != nil {
					if cat, err = e.Repo.GetCategory(ctx, category); err != nil {
						return err
					}
				}
				opts := engine.TaskCreateOptions{
					CategoryID:     cat.ID,
					Name:           name,
					TargetCoverage: coverage,
					Priority:       priority,
					Checks:         checks,
					FreezeDelay:    freezeDelay,
					Comment:        comment,
					ActorID:        viper.GetString("actor-id"),
				}
				if !cmd.Flags().Changed("coverage") {
					opts.TargetCoverage = e.Config.Tasks.DefaultTargetCoverage
				}
				if !cmd.Flags().Changed("priority") {
					opts.Priority = e.Config.Tasks.DefaultPriority
				}
				if !cmd.Flags().Changed("checks") {
					opts.Checks = e.Config.Tasks.DefaultChecks
				}
				if !cmd.Flags().Changed("freeze-delay") {
					opts.FreezeDelay = e.Config.Tasks.DefaultFreezeDelay
				}
				if cmd.Flags().Changed("seed-x") {
					opts.SeedX, opts.SeedY, opts.SeedZ = &seedX, &seedY, &seedZ
				}
				if taskFile != "" {
					data, err := os.ReadFile(taskFile)
					if err != nil {
						return err
					}
					opts.TaskFileData = data
					opts.TaskFileName = filepath.Base(taskFile)
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category name or id")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().IntVar(&coverage, "coverage", 0, "target coverage")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, higher first; -1 hides the task")
	cmd.Flags().StringVar(&checks, "checks", "", "space separated check names")
	cmd.Flags().Float64Var(&freezeDelay, "freeze-delay", 0, "days without submissions before the sweep freezes a work")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	cmd.Flags().StringVar(&taskFile, "file", "", "starting annotation archive")
	cmd.Flags().IntVar(&seedX, "seed-x", 0, "seed x coordinate")
	cmd.Flags().IntVar(&seedY, "seed-y", 0, "seed y coordinate")
	cmd.Flags().IntVar(&seedZ, "seed-z", 0, "seed z coordinate")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskListCmd() *cobra.Command {
	var category string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.TaskFilters{ProjectID: e.Config.Project.ID, ActiveOnly: activeOnly}
				if category != "" {
					cat, err := e.Repo.GetCategoryByName(ctx, e.Config.Project.ID, category)
					if err != nil {
						return err
					}
					f.CategoryID = cat.ID
					f.ProjectID = ""
				}
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Coverage", "Priority", "Active", "Checks"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{
						t.ID, t.Name,
						fmt.Sprintf("%d/%d", t.CurrentCoverage, t.TargetCoverage),
						t.Priority, t.IsActive, t.Checks,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category name")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAvailableCmd() *cobra.Command {
	var employee string
	var count int
	cmd := &cobra.Command{
		Use:   "available",
		Short: "Tasks an employee can choose from",
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := resolveEmployee(ctx, e, employee)
				if err != nil {
					return err
				}
				tasks, err := e.GetAvailableTasks(ctx, emp.ID, count)
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	cmd.Flags().IntVar(&count, "count", 3, "max tasks per category")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

// --- work ---

func workCmd() *cobra.Command {
	work := &cobra.Command{Use: "work", Short: "Manage works"}
	work.AddCommand(workChooseCmd())
	work.AddCommand(workCancelCmd())
	work.AddCommand(workResetCmd())
	work.AddCommand(workUnfinalizeCmd())
	work.AddCommand(workFreezeCmd())
	work.AddCommand(workListCmd())
	work.AddCommand(workActiveCmd())
	work.AddCommand(workCurrentCmd())
	return work
}

func workCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Per-employee snapshot of open works",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.EmployeesCurrentWork(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Employee", "Task", "Started", "Worktime"})
				for _, cw := range items {
					row := table.Row{cw.Employee.Username, "", "", ""}
					if cw.Work != nil {
						row = table.Row{cw.Employee.Username, cw.TaskName, cw.Work.Started, cw.Work.Worktime}
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
}

func employeeTaskCmd(use, short string, run func(ctx context.Context, e engine.Engine, employeeID, taskID string) error) *cobra.Command {
	var employee string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := resolveEmployee(ctx, e, employee)
				if err != nil {
					return err
				}
				return run(ctx, e, emp.ID, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

func workChooseCmd() *cobra.Command {
	return employeeTaskCmd("choose <task-id>", "Choose a task to work on",
		func(ctx context.Context, e engine.Engine, employeeID, taskID string) error {
			w, err := e.ChooseTask(ctx, employeeID, taskID, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(w)
		})
}

func workCancelCmd() *cobra.Command {
	return employeeTaskCmd("cancel <task-id>", "Cancel a chosen task",
		func(ctx context.Context, e engine.Engine, employeeID, taskID string) error {
			return e.CancelTask(ctx, employeeID, taskID, viper.GetString("actor-id"))
		})
}

func workResetCmd() *cobra.Command {
	return employeeTaskCmd("reset <task-id>", "Discard all submissions and start over",
		func(ctx context.Context, e engine.Engine, employeeID, taskID string) error {
			w, err := e.ResetTask(ctx, employeeID, taskID, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(w)
		})
}

func workUnfinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfinalize <work-id>",
		Short: "Reopen a finalized work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UnfinalizeWork(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workFreezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freeze <work-id>",
		Short: "Freeze a work permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.FreezeWork(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workListCmd() *cobra.Command {
	var taskID, employee string
	var frozen bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List works",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.WorkFilters{TaskID: taskID, FrozenOnly: frozen}
				if employee != "" {
					emp, err := resolveEmployee(ctx, e, employee)
					if err != nil {
						return err
					}
					f.EmployeeID = emp.ID
				}
				works, err := e.Repo.ListWorks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(works)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Employee", "Started", "Final", "Frozen", "Worktime"})
				for _, w := range works {
					tw.AppendRow(table.Row{w.ID, w.TaskID, w.EmployeeID, w.Started, w.IsFinal, w.Frozen, w.Worktime})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id filter")
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	cmd.Flags().BoolVar(&frozen, "frozen", false, "only frozen works")
	return cmd
}

func workActiveCmd() *cobra.Command {
	var employee string
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the employee's current non-final work",
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := resolveEmployee(ctx, e, employee)
				if err != nil {
					return err
				}
				w, err := e.GetActiveWork(ctx, emp.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

// --- submit ---

func submitCmd() *cobra.Command {
	var employee, comment string
	var final, skipChecks bool
	cmd := &cobra.Command{
		Use:   "submit <archive>",
		Short: "Submit an annotation archive for the active work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := resolveEmployee(ctx, e, employee)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				result, err := e.Submit(ctx, engine.SubmitOptions{
					EmployeeID: emp.ID,
					Filename:   filepath.Base(args[0]),
					Archive:    data,
					Comment:    comment,
					IsFinal:    final,
					SkipChecks: skipChecks,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	cmd.Flags().BoolVar(&final, "final", false, "mark the work finished")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "store without running checks")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

// --- submission ---

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Short: "Manage submissions"}
	sub.AddCommand(submissionListCmd())
	sub.AddCommand(submissionDeleteCmd())
	sub.AddCommand(submissionExportCmd())
	return sub
}

func submissionListCmd() *cobra.Command {
	var workID, employee string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.SubmissionFilters{WorkID: workID, Limit: limit}
				if employee != "" {
					emp, err := resolveEmployee(ctx, e, employee)
					if err != nil {
						return err
					}
					f.EmployeeID = emp.ID
				}
				items, err := e.Repo.ListSubmissions(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&workID, "work", "", "work id filter")
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	cmd.Flags().IntVar(&limit, "n", 50, "max submissions")
	return cmd
}

func submissionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <submission-id>",
		Short: "Delete a submission and rewind its work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteSubmission(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func submissionExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <submission-id>",
		Short: "Write a stored submission archive to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				if s.Datafile == "" {
					return fmt.Errorf("submission has no stored file")
				}
				data, err := e.Blobs.Read(s.Datafile)
				if err != nil {
					return err
				}
				target := out
				if target == "" {
					target = s.OriginalFilename
				}
				return os.WriteFile(target, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path, defaults to the original filename")
	return cmd
}

// --- report ---

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Reports"}
	rep.AddCommand(reportWorktimeCmd())
	return rep
}

func reportWorktimeCmd() *cobra.Command {
	var employee string
	cmd := &cobra.Command{
		Use:   "worktime",
		Short: "Monthly worktime overview for an employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := resolveEmployee(ctx, e, employee)
				if err != nil {
					return err
				}
				overview, err := e.MonthlyWorktime(ctx, emp.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(overview)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Year", "Month", "Hours", "Incomplete"})
				for year, months := range overview.Totals {
					for month, bucket := range months {
						tw.AppendRow(table.Row{year, month, bucket.Hours, bucket.Incomplete})
					}
				}
				tw.SortBy([]table.SortBy{{Name: "Year"}, {Name: "Month"}})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

// --- sweep ---

func sweepCmd() *cobra.Command {
	sweep := &cobra.Command{Use: "sweep", Short: "Maintenance sweeps"}
	sweep.AddCommand(sweepFreezesCmd())
	sweep.AddCommand(sweepStaleCmd())
	return sweep
}

func sweepFreezesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freezes",
		Short: "Freeze all works whose freeze delay has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				frozen, err := e.SweepFreezes(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(frozen)
			})
		},
	}
}

func sweepStaleCmd() *cobra.Command {
	var days float64
	var categories []string
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List non-final works without recent submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.StaleWork(ctx, days, categories)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().Float64Var(&days, "days", 14, "days without submissions")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict to category names")
	return cmd
}

// --- apikey ---

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var employee, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is shown only once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := resolveEmployee(ctx, e, employee)
				if err != nil {
					return err
				}
				key, plaintext, err := e.CreateAPIKey(ctx, emp.ID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":          key.ID,
					"employee_id": key.EmployeeID,
					"key":         plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var employee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				employeeID := ""
				if employee != "" {
					emp, err := resolveEmployee(ctx, e, employee)
					if err != nil {
						return err
					}
					employeeID = emp.ID
				}
				items, err := e.Repo.ListAPIKeys(ctx, employeeID)
				if err != nil {
					return err
				}
				for i := range items {
					items[i].KeyHash = ""
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee username or id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var autoProvision bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:     os.Getenv("ANNOTRACK_JWT_SECRET"),
					AutoProvision: autoProvision,
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Annotrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&autoProvision, "auto-provision", false, "create employees on first JWT login")
	return cmd
}

// --- helpers ---

func blobRoot(workspace string) string {
	return filepath.Join(workspace, ".annotrack", "files")
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, blob.New(blobRoot(workspace)))
	return fn(ctx, e)
}

// withBareEngine skips project resolution, for commands that create the
// first project in a workspace.
func withBareEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil, blob.New(blobRoot(workspace)))
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func resolveEmployee(ctx context.Context, e engine.Engine, ref string) (domain.Employee, error) {
	emp, err := e.Repo.GetEmployee(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetEmployeeByUsername(ctx, ref)
	}
	return emp, err
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
