package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-teachable/pkg/classifier"
)

func testStore(t *testing.T) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "runs", "history.json"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestNewRun(t *testing.T) {
	names := []string{"cat", "dog"}
	counts := []int{3, 4}
	run := NewRun(names, counts)

	if run.ID == "" {
		t.Error("expected ID to be generated")
	}
	if run.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
	names[0] = "changed"
	counts[0] = 99
	if run.Labels[0] != "cat" || run.Counts[0] != 3 {
		t.Error("NewRun should copy its inputs")
	}
	if run.Duration() != 0 {
		t.Error("unfinished run should have zero duration")
	}
}

func TestSaveAndGet(t *testing.T) {
	store := testStore(t)

	run := &Run{Labels: []string{"a", "b"}, Status: StatusSucceeded}
	if err := store.Save(run); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected ID to be generated")
	}

	got, err := store.Get(run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSucceeded || len(got.Labels) != 2 {
		t.Errorf("got %+v", got)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}

	run := NewRun([]string{"cat", "dog"}, []int{3, 4})
	run.Epochs = []classifier.EpochLogs{{Epoch: 0, Loss: 0.7, Accuracy: 0.5}}
	run.FinishedAt = run.StartedAt.Add(2 * time.Second)
	run.Status = StatusSucceeded
	if err := store.Save(run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(run.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(got.Epochs) != 1 || got.Epochs[0].Loss != 0.7 {
		t.Errorf("epochs = %+v", got.Epochs)
	}
	if got.Duration() != 2*time.Second {
		t.Errorf("Duration = %v", got.Duration())
	}
}

func TestListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 3; i++ {
		store.Save(&Run{ID: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	runs, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"c", "b", "a"}
	for i, r := range runs {
		if r.ID != want[i] {
			t.Errorf("runs[%d] = %s, want %s", i, r.ID, want[i])
		}
	}
}

func TestRetention(t *testing.T) {
	store := NewMemoryStore()
	store.SetMaxRuns(2)
	base := time.Now()
	for i := 0; i < 4; i++ {
		store.Save(&Run{ID: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Second)})
	}

	if store.Count() != 2 {
		t.Fatalf("Count = %d, want 2", store.Count())
	}
	if _, err := store.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Error("oldest run should be dropped")
	}
	if _, err := store.Get("d"); err != nil {
		t.Error("newest run should be kept")
	}
}

func TestRetentionAfterLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	base := time.Now()
	stored := storeData{Version: currentVersion}
	for i := 0; i < DefaultMaxRuns+5; i++ {
		stored.Runs = append(stored.Runs, &Run{
			ID:        fmt.Sprintf("run-%03d", i),
			StartedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	if store.Count() != DefaultMaxRuns {
		t.Fatalf("Count after load = %d, want %d", store.Count(), DefaultMaxRuns)
	}
	if _, err := store.Get("run-000"); !errors.Is(err, ErrNotFound) {
		t.Error("oldest loaded run should be dropped")
	}

	store.SetMaxRuns(3)
	runs, _ := store.List()
	if len(runs) != 3 {
		t.Fatalf("List after SetMaxRuns = %d runs, want 3", len(runs))
	}
	last := fmt.Sprintf("run-%03d", DefaultMaxRuns+4)
	if runs[0].ID != last {
		t.Errorf("newest run = %s, want %s", runs[0].ID, last)
	}

	if err := store.Save(&Run{ID: "fresh", StartedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.SetMaxRuns(3)
	if reopened.Count() != 3 {
		t.Errorf("reopened Count = %d, want 3", reopened.Count())
	}
}

func TestMemoryStoreHasNoPath(t *testing.T) {
	if NewMemoryStore().Path() != "" {
		t.Error("memory store should have no path")
	}
}
