package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"annotrack/internal/blob"
	"annotrack/internal/config"
	"annotrack/internal/db"
	"annotrack/internal/domain"
	"annotrack/internal/engine"
	"annotrack/internal/migrate"
)

type testServer struct {
	URL       string
	Engine    engine.Engine
	Project   domain.Project
	Category  domain.TaskCategory
	AdminKey  string
	WorkerKey string
	Worker    domain.Employee
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil, blob.New(filepath.Join(workspace, "files")))
	ctx := context.Background()
	project, err := e.InitProject(ctx, "cortex", "", "tester")
	if err != nil {
		t.Fatalf("init project: %v", err)
	}
	cfg := config.Default(project.ID)
	e.Config = cfg
	category, err := e.CreateCategory(ctx, project.ID, "dense-tracing", "", "tester")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	admin, err := e.CreateEmployee(ctx, engine.EmployeeCreateOptions{
		Username: "root", IsAdmin: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	worker, err := e.CreateEmployee(ctx, engine.EmployeeCreateOptions{
		Username: "alice", ProjectID: project.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	_, adminKey, err := e.CreateAPIKey(ctx, admin.ID, "test", "tester")
	if err != nil {
		t.Fatalf("admin key: %v", err)
	}
	_, workerKey, err := e.CreateAPIKey(ctx, worker.ID, "test", "tester")
	if err != nil {
		t.Fatalf("worker key: %v", err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:       "http://" + ln.Addr().String(),
		Engine:    e,
		Project:   project,
		Category:  category,
		AdminKey:  adminKey,
		WorkerKey: workerKey,
		Worker:    worker,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url, apiKey string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func nmlBody(t *testing.T, timeMS, idleMS int64) []byte {
	t.Helper()
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<things>
  <parameters>
    <lastsavedin version="4.1.2"/>
    <time ms="%d"/>
    <idleTime ms="%d"/>
  </parameters>
  <thing id="1">
    <nodes>
      <node id="1" x="10" y="20" z="30"/>
    </nodes>
    <edges/>
  </thing>
</things>`, timeMS, idleMS))
}

func nmlZip(t *testing.T, timeMS, idleMS int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("annotation.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := f.Write(nmlBody(t, timeMS, idleMS)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func submitUpload(t *testing.T, s *testServer, apiKey, filename string, payload []byte, fields map[string]string) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("submit_file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(payload)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	req, err := http.NewRequest(http.MethodPost, s.URL+"/v0/submit", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Api-Key", apiKey)
	res, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	return res, data
}

func createTaskAPI(t *testing.T, s *testServer, name string, coverage int) domain.Task {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/tasks", s.AdminKey, map[string]any{
		"category_id":     s.Category.ID,
		"name":            name,
		"target_coverage": coverage,
		"checks":          "automatic_worktime",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestSubmitFlow(t *testing.T) {
	s := newTestServer(t)
	task := createTaskAPI(t, s, "t1", 1)

	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/works/choose", s.WorkerKey, map[string]any{
		"task_id": task.ID,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("choose status %d: %s", res.StatusCode, string(data))
	}
	var work domain.Work
	if err := json.Unmarshal(data, &work); err != nil {
		t.Fatalf("unmarshal work: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("submit_file", "trace.k.zip")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	// 2h traced, 30m idle
	fw.Write(nmlZip(t, 7200000, 1800000))
	mw.WriteField("is_final", "true")
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, s.URL+"/v0/submit", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Api-Key", s.WorkerKey)
	subRes, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer subRes.Body.Close()
	subData, _ := io.ReadAll(subRes.Body)
	if subRes.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", subRes.StatusCode, string(subData))
	}
	var submitted SubmitResponse
	if err := json.Unmarshal(subData, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.Increment == nil || *submitted.Increment != 1.5 {
		t.Fatalf("expected increment 1.5, got %v", submitted.Increment)
	}
	if !submitted.Work.IsFinal {
		t.Fatalf("expected final work")
	}

	dl, err := http.NewRequest(http.MethodGet, s.URL+"/v0/submissions/"+submitted.Submission.ID+"/file", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	dl.Header.Set("X-Api-Key", s.WorkerKey)
	dlRes, err := s.Client().Do(dl)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dlRes.Body.Close()
	if dlRes.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", dlRes.StatusCode)
	}
	archive, _ := io.ReadAll(dlRes.Body)
	if len(archive) == 0 {
		t.Fatalf("empty archive download")
	}
}

func TestSubmitRawDocument(t *testing.T) {
	s := newTestServer(t)
	task := createTaskAPI(t, s, "t1", 1)

	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/works/choose", s.WorkerKey, map[string]any{
		"task_id": task.ID,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("choose status %d: %s", res.StatusCode, string(data))
	}

	// an unzipped .nml upload is accepted just like an archive
	subRes, subData := submitUpload(t, s, s.WorkerKey, "tracing.nml", nmlBody(t, 7200000, 1800000), nil)
	if subRes.StatusCode != http.StatusOK {
		t.Fatalf("raw submit status %d: %s", subRes.StatusCode, string(subData))
	}
	var submitted SubmitResponse
	if err := json.Unmarshal(subData, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.Increment == nil || *submitted.Increment != 1.5 {
		t.Fatalf("expected increment 1.5, got %v", submitted.Increment)
	}
}

func TestCurrentWorkOverview(t *testing.T) {
	s := newTestServer(t)
	task := createTaskAPI(t, s, "t1", 1)
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/works/choose", s.WorkerKey, map[string]any{
		"task_id": task.ID,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("choose status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/admin/current-work", s.AdminKey, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overview status %d: %s", res.StatusCode, string(data))
	}
	var overview []CurrentWorkResponse
	if err := json.Unmarshal(data, &overview); err != nil {
		t.Fatalf("unmarshal overview: %v", err)
	}
	var found bool
	for _, row := range overview {
		if row.Employee.ID != s.Worker.ID {
			continue
		}
		found = true
		if row.Work == nil || row.Work.TaskID != task.ID {
			t.Fatalf("worker row missing open work: %+v", row)
		}
		if row.TaskName != task.Name {
			t.Fatalf("task name = %q, want %q", row.TaskName, task.Name)
		}
	}
	if !found {
		t.Fatal("worker missing from overview")
	}

	// the overview is admin only
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/admin/current-work", s.WorkerKey, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.StatusCode)
	}

	// finality filter on the work list
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/works?is_final=false", s.AdminKey, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var open []domain.Work
	if err := json.Unmarshal(data, &open); err != nil {
		t.Fatalf("unmarshal works: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open work, got %d", len(open))
	}
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/works?is_final=true", s.AdminKey, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var finished []domain.Work
	if err := json.Unmarshal(data, &finished); err != nil {
		t.Fatalf("unmarshal works: %v", err)
	}
	if len(finished) != 0 {
		t.Fatalf("expected no finished works, got %d", len(finished))
	}
}

func TestChooseConflicts(t *testing.T) {
	s := newTestServer(t)
	first := createTaskAPI(t, s, "t1", 1)
	second := createTaskAPI(t, s, "t2", 1)

	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/works/choose", s.WorkerKey, map[string]any{
		"task_id": first.ID,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("choose status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/works/choose", s.WorkerKey, map[string]any{
		"task_id": second.ID,
	})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "too_many_active_tasks" {
		t.Fatalf("expected too_many_active_tasks, got %q", envelope.Error.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	res, _ := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/projects", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/projects", "bogus", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res.StatusCode)
	}
}

func TestAdminGate(t *testing.T) {
	s := newTestServer(t)

	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/tasks", s.WorkerKey, map[string]any{
		"category_id":     s.Category.ID,
		"name":            "t1",
		"target_coverage": 1,
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/admin/sweep-freezes", s.WorkerKey, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on sweep, got %d", res.StatusCode)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	s := newTestServer(t)

	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/tasks/nope", s.WorkerKey, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", envelope.Error.Code)
	}
}

func TestAvailableTasks(t *testing.T) {
	s := newTestServer(t)
	createTaskAPI(t, s, "t1", 1)
	createTaskAPI(t, s, "t2", 1)

	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me/tasks/available?count=3", s.WorkerKey, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("available status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 available tasks, got %d", len(tasks))
	}
}
