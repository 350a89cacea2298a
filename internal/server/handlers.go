package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"annotrack/internal/domain"
	"annotrack/internal/engine"
	"annotrack/internal/repo"
)

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.InitProject(ctx, input.Body.Name, input.Body.Description, admin.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerCategories(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-category",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/categories",
		Summary:       "Create task category",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateCategoryRequest `json:"body"`
	}) (*struct {
		Body domain.TaskCategory `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCategory(ctx, input.ProjectID, input.Body.Name, input.Body.Description, admin.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskCategory `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/categories",
		Summary:     "List task categories",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.TaskCategory `json:"body"`
	}, error) {
		items, err := e.Repo.ListCategories(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskCategory `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerEmployees(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-employee",
		Method:        http.MethodPost,
		Path:          "/employees",
		Summary:       "Create employee",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateEmployeeRequest `json:"body"`
	}) (*struct {
		Body domain.Employee `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Username) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "username is required", nil)
		}
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := ""
		if input.Body.ProjectID != nil {
			projectID = *input.Body.ProjectID
		}
		emp, err := e.CreateEmployee(ctx, engine.EmployeeCreateOptions{
			Username:  input.Body.Username,
			FirstName: input.Body.FirstName,
			LastName:  input.Body.LastName,
			Email:     input.Body.Email,
			ProjectID: projectID,
			IsAdmin:   input.Body.IsAdmin,
			ActorID:   admin.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Employee `json:"body"`
		}{Body: emp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-employees",
		Method:      http.MethodGet,
		Path:        "/employees",
		Summary:     "List employees",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Unassigned bool   `query:"unassigned"`
	}) (*struct {
		Body []domain.Employee `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListEmployees(ctx, repo.EmployeeFilters{
			ProjectID:  input.ProjectID,
			Unassigned: input.Unassigned,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Employee `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-employee",
		Method:      http.MethodGet,
		Path:        "/employees/{employee_id}",
		Summary:     "Get employee",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EmployeeID string `path:"employee_id"`
	}) (*struct {
		Body domain.Employee `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		emp, err := e.Repo.GetEmployee(ctx, input.EmployeeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Employee `json:"body"`
		}{Body: emp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-project",
		Method:      http.MethodPost,
		Path:        "/employees/assign",
		Summary:     "Assign employees to a project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body AssignProjectRequest `json:"body"`
	}) (*struct {
		Body []domain.Employee `json:"body"`
	}, error) {
		if len(input.Body.EmployeeIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "employee_ids is required", nil)
		}
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AssignProject(ctx, input.Body.EmployeeIDs, input.Body.ProjectID, admin.ID); err != nil {
			return nil, handleError(err)
		}
		out := make([]domain.Employee, 0, len(input.Body.EmployeeIDs))
		for _, id := range input.Body.EmployeeIDs {
			emp, err := e.Repo.GetEmployee(ctx, id)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, emp)
		}
		return &struct {
			Body []domain.Employee `json:"body"`
		}{Body: out}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		CategoryID string `query:"category_id"`
		Active     bool   `query:"active"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:  input.ProjectID,
			CategoryID: input.CategoryID,
			ActiveOnly: input.Active,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Description:   "Creates a task without a reference file. Use the multipart upload endpoint to attach one.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if strings.TrimSpace(input.Body.CategoryID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "category_id is required", nil)
		}
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			CategoryID:     input.Body.CategoryID,
			Name:           input.Body.Name,
			TargetCoverage: input.Body.TargetCoverage,
			Priority:       input.Body.Priority,
			Checks:         input.Body.Checks,
			FreezeDelay:    input.Body.FreezeDelay,
			Comment:        input.Body.Comment,
			SeedX:          input.Body.SeedX,
			SeedY:          input.Body.SeedY,
			SeedZ:          input.Body.SeedZ,
			ActorID:        admin.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-complete-frozen",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/complete-frozen",
		Summary:     "Whether a task is fully covered and all its works frozen",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		ok, err := e.IsCompleteFrozenTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{"complete_frozen": ok}}, nil
	})
}

func registerWorks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "choose-task",
		Method:      http.MethodPost,
		Path:        "/works/choose",
		Summary:     "Choose a task to work on",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body ChooseTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.TaskID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "task_id is required", nil)
		}
		w, err := e.ChooseTask(ctx, emp.ID, input.Body.TaskID, emp.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/works/cancel",
		Summary:     "Cancel a chosen task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body ChooseTaskRequest `json:"body"`
	}) (*struct{}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CancelTask(ctx, emp.ID, input.Body.TaskID, emp.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-task",
		Method:      http.MethodPost,
		Path:        "/works/reset",
		Summary:     "Discard all submissions for a chosen task and start over",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body ChooseTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.ResetTask(ctx, emp.ID, input.Body.TaskID, emp.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-works",
		Method:      http.MethodGet,
		Path:        "/works",
		Summary:     "List works",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TaskID     string `query:"task_id"`
		EmployeeID string `query:"employee_id"`
		IsFinal    string `query:"is_final"`
		Frozen     bool   `query:"frozen"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Work `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		filters := repo.WorkFilters{
			TaskID:     input.TaskID,
			EmployeeID: input.EmployeeID,
			FrozenOnly: input.Frozen,
			Limit:      input.Limit,
		}
		if input.IsFinal != "" {
			final := input.IsFinal == "true"
			filters.IsFinal = &final
		}
		items, err := e.Repo.ListWorks(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Work `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}",
		Summary:     "Get work",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkID string `path:"work_id"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		w, err := e.Repo.GetWork(ctx, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unfinalize-work",
		Method:      http.MethodPost,
		Path:        "/works/{work_id}/unfinalize",
		Summary:     "Reopen a finalized work",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		WorkID string `path:"work_id"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.UnfinalizeWork(ctx, input.WorkID, admin.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "freeze-work",
		Method:      http.MethodPost,
		Path:        "/works/{work_id}/freeze",
		Summary:     "Freeze a work permanently",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		WorkID string `path:"work_id"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.FreezeWork(ctx, input.WorkID, admin.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions",
	}, func(ctx context.Context, input *struct {
		WorkID     string `query:"work_id"`
		EmployeeID string `query:"employee_id"`
		Since      string `query:"since"`
		Until      string `query:"until"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Submission `json:"body"`
	}, error) {
		items, err := e.Repo.ListSubmissions(ctx, repo.SubmissionFilters{
			WorkID:     input.WorkID,
			EmployeeID: input.EmployeeID,
			Since:      input.Since,
			Until:      input.Until,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Submission `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{submission_id}",
		Summary:     "Get submission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		s, err := e.Repo.GetSubmission(ctx, input.SubmissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-submission",
		Method:      http.MethodDelete,
		Path:        "/submissions/{submission_id}",
		Summary:     "Delete a submission and rewind its work",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct{}, error) {
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSubmission(ctx, input.SubmissionID, admin.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "employee-worktime",
		Method:      http.MethodGet,
		Path:        "/employees/{employee_id}/worktime",
		Summary:     "Monthly worktime overview for an employee",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EmployeeID string `path:"employee_id"`
	}) (*struct {
		Body domain.WorktimeOverview `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !emp.IsAdmin && emp.ID != input.EmployeeID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin privileges required", nil)
		}
		overview, err := e.MonthlyWorktime(ctx, input.EmployeeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorktimeOverview `json:"body"`
		}{Body: overview}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Cursor     int64  `query:"cursor"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		var (
			items []domain.Event
			err   error
		)
		if input.Cursor > 0 {
			items, err = e.Repo.LatestEventsFrom(ctx, input.Limit, input.Cursor, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		} else {
			items, err = e.Repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: eventResponses(items)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		Description:   "The plaintext key is only returned once.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.EmployeeID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "employee_id is required", nil)
		}
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plaintext, err := e.CreateAPIKey(ctx, input.Body.EmployeeID, input.Body.Name, admin.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{
			ID:         key.ID,
			EmployeeID: key.EmployeeID,
			Name:       key.Name,
			Key:        plaintext,
			CreatedAt:  key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EmployeeID string `query:"employee_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, input.EmployeeID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep-freezes",
		Method:      http.MethodPost,
		Path:        "/admin/sweep-freezes",
		Summary:     "Freeze all works whose freeze delay has elapsed",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		admin, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		frozen, err := e.SweepFreezes(ctx, admin.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Frozen: nonNilSlice(frozen)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stale-works",
		Method:      http.MethodGet,
		Path:        "/admin/stale-works",
		Summary:     "List non-final works without recent submissions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Days       float64  `query:"days"`
		Categories []string `query:"category"`
	}) (*struct {
		Body []domain.Work `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		days := input.Days
		if days <= 0 {
			days = 14
		}
		items, err := e.StaleWork(ctx, days, input.Categories)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Work `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-work",
		Method:      http.MethodGet,
		Path:        "/admin/current-work",
		Summary:     "Per-employee snapshot of open works",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []CurrentWorkResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.EmployeesCurrentWork(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]CurrentWorkResponse, 0, len(items))
		for _, cw := range items {
			out = append(out, CurrentWorkResponse{
				Employee: cw.Employee,
				Work:     cw.Work,
				TaskName: cw.TaskName,
			})
		}
		return &struct {
			Body []CurrentWorkResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated employee",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Employee `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.Employee `json:"body"`
		}{Body: emp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-tasks",
		Method:      http.MethodGet,
		Path:        "/me/tasks/available",
		Summary:     "Tasks the employee can choose from",
	}, func(ctx context.Context, input *struct {
		Count int `query:"count"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		count := input.Count
		if count <= 0 {
			count = 3
		}
		items, err := e.GetAvailableTasks(ctx, emp.ID, count)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-work",
		Method:      http.MethodGet,
		Path:        "/me/work/active",
		Summary:     "Current non-final work",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.GetActiveWork(ctx, emp.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "completed-works",
		Method:      http.MethodGet,
		Path:        "/me/works/completed",
		Summary:     "Finalized works",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Work `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.GetCompletedWork(ctx, emp.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Work `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-worktime",
		Method:      http.MethodGet,
		Path:        "/me/worktime",
		Summary:     "Monthly worktime overview",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.WorktimeOverview `json:"body"`
	}, error) {
		emp, authErr := employeeFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		overview, err := e.MonthlyWorktime(ctx, emp.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorktimeOverview `json:"body"`
		}{Body: overview}, nil
	})
}
