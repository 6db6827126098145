package tasks

import (
	"context"
	"errors"
	"sort"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"kanban-api/domain"
	"kanban-api/storage"
)

type fakeStore struct {
	tasks     map[string]domain.TaskRecord
	owners    map[string]string
	inserts   int
	updates   int
	listErr   error
	maxErr    error
	insertErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]domain.TaskRecord{}, owners: map[string]string{}}
}

func (f *fakeStore) ListTasks(_ context.Context, ownerID string, flt storage.TaskFilter) ([]domain.TaskRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.TaskRecord
	for id, rec := range f.tasks {
		if f.owners[id] != ownerID {
			continue
		}
		if flt.Status != "" && rec.Status != flt.Status {
			continue
		}
		if flt.BoardID != "" && (rec.BoardID == nil || *rec.BoardID != flt.BoardID) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) MaxOrder(ctx context.Context, ownerID string, flt storage.TaskFilter) (int, bool, error) {
	if f.maxErr != nil {
		return 0, false, f.maxErr
	}
	recs, _ := f.ListTasks(ctx, ownerID, flt)
	if len(recs) == 0 {
		return 0, false, nil
	}
	top := recs[0].Order
	for _, r := range recs[1:] {
		if r.Order > top {
			top = r.Order
		}
	}
	return top, true, nil
}

func (f *fakeStore) GetTask(_ context.Context, ownerID, id string) (domain.TaskRecord, error) {
	rec, ok := f.tasks[id]
	if !ok || f.owners[id] != ownerID {
		return domain.TaskRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) InsertTask(_ context.Context, ownerID string, rec domain.TaskRecord) (domain.TaskRecord, error) {
	f.inserts++
	if f.insertErr != nil {
		return domain.TaskRecord{}, f.insertErr
	}
	owner := ownerID
	rec.UserID = &owner
	f.tasks[rec.ID] = rec
	f.owners[rec.ID] = ownerID
	return rec, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, ownerID, id string, patch domain.TaskPatch) (domain.TaskRecord, error) {
	f.updates++
	if f.updateErr != nil {
		return domain.TaskRecord{}, f.updateErr
	}
	rec, err := f.GetTask(ctx, ownerID, id)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	if patch.IfMatch != "" && patch.IfMatch != rec.ETag {
		return domain.TaskRecord{}, domain.ErrConflict
	}
	rec = patch.Apply(rec)
	f.tasks[id] = rec
	return rec, nil
}

func (f *fakeStore) DeleteTask(_ context.Context, ownerID, id string) error {
	if _, ok := f.tasks[id]; !ok || f.owners[id] != ownerID {
		return domain.ErrNotFound
	}
	delete(f.tasks, id)
	delete(f.owners, id)
	return nil
}

type fakeCleanup struct {
	reqs []storage.ImageCleanup
	err  error
}

func (f *fakeCleanup) EnqueueImageCleanup(_ context.Context, req storage.ImageCleanup) error {
	f.reqs = append(f.reqs, req)
	return f.err
}

func newTestService(st Store, cl CleanupEnqueuer) (*Service, *test.Hook) {
	logger, hook := test.NewNullLogger()
	svc := NewService(st, cl, logger)
	n := 0
	svc.newID = func() string {
		n++
		return "task-" + string(rune('0'+n))
	}
	return svc, hook
}

func strPtr(s string) *string { return &s }

func TestCreateTaskAssignsIdentifier(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)

	rec, err := svc.CreateTask(context.Background(), "u1", domain.CreateTaskData{Title: " Write tests ", Status: domain.StatusTodo, Order: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != "task-1" || rec.Title != "Write tests" || rec.Order != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.UserID == nil || *rec.UserID != "u1" {
		t.Fatalf("expected owner to be set: %+v", rec)
	}
}

func TestCreateTaskValidatesBeforeStore(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)

	_, err := svc.CreateTask(context.Background(), "u1", domain.CreateTaskData{Title: "", Status: domain.StatusTodo})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if st.inserts != 0 {
		t.Fatalf("store should not be called, inserts=%d", st.inserts)
	}
}

func TestCreateTaskStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.insertErr = errors.New("unavailable")
	svc, _ := newTestService(st, nil)

	_, err := svc.CreateTask(context.Background(), "u1", domain.CreateTaskData{Title: "x", Status: domain.StatusDone})
	if !errors.Is(err, domain.ErrCreate) {
		t.Fatalf("expected create failure, got %v", err)
	}
}

func TestListTasksEmptyAndFailure(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)

	recs, err := svc.ListTasks(context.Background(), "u1", "")
	if err != nil || recs == nil || len(recs) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", recs, err)
	}

	st.listErr = errors.New("down")
	if _, err := svc.ListTasks(context.Background(), "u1", ""); !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
}

func TestUpdateTaskPartial(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)
	ctx := context.Background()
	rec, _ := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "a", Description: strPtr("keep"), Status: domain.StatusTodo})

	title := "b"
	out, err := svc.UpdateTask(ctx, "u1", rec.ID, domain.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Title != "b" || out.Description == nil || *out.Description != "keep" || out.Status != domain.StatusTodo {
		t.Fatalf("unexpected record: %+v", out)
	}
}

func TestUpdateTaskErrors(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)
	ctx := context.Background()
	rec, _ := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "a", Status: domain.StatusTodo})
	st.tasks[rec.ID] = func() domain.TaskRecord { r := st.tasks[rec.ID]; r.ETag = "v2"; return r }()

	title := "b"
	blank := "  "
	tests := []struct {
		name   string
		id     string
		patch  domain.TaskPatch
		target error
		valid  bool
	}{
		{name: "missing", id: "nope", patch: domain.TaskPatch{Title: &title}, target: domain.ErrNotFound},
		{name: "stale etag", id: rec.ID, patch: domain.TaskPatch{Title: &title, IfMatch: "v1"}, target: domain.ErrConflict},
		{name: "blank title", id: rec.ID, patch: domain.TaskPatch{Title: &blank}, valid: true},
		{name: "empty patch", id: rec.ID, valid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateTask(ctx, "u1", tt.id, tt.patch)
			if tt.valid {
				if !domain.IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrUpdate) || !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestDeleteTaskEnqueuesImageCleanup(t *testing.T) {
	st := newFakeStore()
	cl := &fakeCleanup{}
	svc, _ := newTestService(st, cl)
	ctx := context.Background()
	withImage, _ := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "pic", Status: domain.StatusTodo, ImageFileID: strPtr("file-1")})
	plain, _ := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "text", Status: domain.StatusTodo})

	if err := svc.DeleteTask(ctx, "u1", plain.ID); err != nil {
		t.Fatalf("delete plain: %v", err)
	}
	if err := svc.DeleteTask(ctx, "u1", withImage.ID); err != nil {
		t.Fatalf("delete image task: %v", err)
	}
	if len(cl.reqs) != 1 || cl.reqs[0] != (storage.ImageCleanup{UserID: "u1", FileID: "file-1"}) {
		t.Fatalf("unexpected cleanup requests: %+v", cl.reqs)
	}
}

func TestDeleteTaskMissingIsError(t *testing.T) {
	svc, _ := newTestService(newFakeStore(), nil)
	err := svc.DeleteTask(context.Background(), "u1", "ghost")
	if !errors.Is(err, domain.ErrDelete) || !IsNotFound(err) {
		t.Fatalf("expected delete not found, got %v", err)
	}
}

func TestDeleteTaskCleanupFailureIsLogged(t *testing.T) {
	st := newFakeStore()
	cl := &fakeCleanup{err: errors.New("queue down")}
	svc, hook := newTestService(st, cl)
	ctx := context.Background()
	rec, _ := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "pic", Status: domain.StatusTodo, ImageFileID: strPtr("f")})

	if err := svc.DeleteTask(ctx, "u1", rec.ID); err != nil {
		t.Fatalf("delete should succeed: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning, got %+v", entry)
	}
}

func TestNextOrder(t *testing.T) {
	st := newFakeStore()
	svc, hook := newTestService(st, nil)
	ctx := context.Background()

	if got := svc.NextOrder(ctx, "u1", domain.StatusTodo, ""); got != 0 {
		t.Fatalf("empty column should give 0, got %d", got)
	}
	for _, o := range []int{0, 4, 2} {
		if _, err := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "t", Status: domain.StatusTodo, Order: o}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "d", Status: domain.StatusDone, Order: 9}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := svc.NextOrder(ctx, "u1", domain.StatusTodo, ""); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := svc.NextOrder(ctx, "other", domain.StatusTodo, ""); got != 0 {
		t.Fatalf("other owner should give 0, got %d", got)
	}

	st.maxErr = errors.New("down")
	if got := svc.NextOrder(ctx, "u1", domain.StatusTodo, ""); got != 0 {
		t.Fatalf("failure should degrade to 0, got %d", got)
	}
	if len(hook.Entries) == 0 {
		t.Fatalf("expected failure to be logged")
	}
}

func TestReorderTask(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)
	ctx := context.Background()
	rec, _ := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "t", Status: domain.StatusTodo})

	out, err := svc.ReorderTask(ctx, "u1", rec.ID, domain.StatusDone, 7)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if out.Status != domain.StatusDone || out.Order != 7 {
		t.Fatalf("unexpected record: %+v", out)
	}
	if st.updates != 1 {
		t.Fatalf("expected one write, got %d", st.updates)
	}

	if _, err := svc.ReorderTask(ctx, "u1", "ghost", domain.StatusDone, 1); !errors.Is(err, domain.ErrReorder) {
		t.Fatalf("expected reorder failure, got %v", err)
	}
	if _, err := svc.ReorderTask(ctx, "u1", rec.ID, "later", 1); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScopedBindsOwner(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)
	ctx := context.Background()
	alice := svc.Scoped("alice")

	rec, err := alice.CreateTask(ctx, domain.CreateTaskData{Title: "t", Status: domain.StatusTodo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Scoped("bob").DeleteTask(ctx, rec.ID); !IsNotFound(err) {
		t.Fatalf("other owner must not see the task, got %v", err)
	}
	recs, _ := alice.ListTasks(ctx, "")
	if len(recs) != 1 {
		t.Fatalf("expected one task, got %d", len(recs))
	}
}

type recordingNotifier struct {
	changes []string
	err     error
}

func (r *recordingNotifier) TasksChanged(_ context.Context, ownerID, change, taskID string) error {
	r.changes = append(r.changes, ownerID+":"+change+":"+taskID)
	return r.err
}

func TestWritesNotifyChanges(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(st, nil)
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	ctx := context.Background()

	rec, err := svc.CreateTask(ctx, "u1", domain.CreateTaskData{Title: "a", Status: domain.StatusTodo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.UpdateTask(ctx, "u1", rec.ID, domain.TaskPatch{Title: strPtr("b")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := svc.ReorderTask(ctx, "u1", rec.ID, domain.StatusDone, 1); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := svc.DeleteTask(ctx, "u1", rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.UpdateTask(ctx, "u1", "missing", domain.TaskPatch{Title: strPtr("c")}); err == nil {
		t.Fatalf("expected update of missing task to fail")
	}

	want := []string{"u1:task-created:task-1", "u1:task-updated:task-1", "u1:task-moved:task-1", "u1:task-deleted:task-1"}
	if len(n.changes) != len(want) {
		t.Fatalf("unexpected changes %v", n.changes)
	}
	for i := range want {
		if n.changes[i] != want[i] {
			t.Fatalf("change %d: got %s, want %s", i, n.changes[i], want[i])
		}
	}
}

func TestNotifierFailureIsLogged(t *testing.T) {
	svc, hook := newTestService(newFakeStore(), nil)
	svc.SetNotifier(&recordingNotifier{err: errors.New("redis down")})

	if _, err := svc.CreateTask(context.Background(), "u1", domain.CreateTaskData{Title: "a", Status: domain.StatusTodo}); err != nil {
		t.Fatalf("create must succeed when publishing fails: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel || entry.Data["change"] != ChangeCreated {
		t.Fatalf("expected warning, got %+v", entry)
	}
}
