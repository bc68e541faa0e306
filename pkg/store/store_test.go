package store

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-teachable/pkg/features"
	"github.com/teslashibe/go-teachable/pkg/labels"
)

func TestAppendAndCount(t *testing.T) {
	pool := features.NewPool(4)
	s := New(2)

	appends := map[int]int{0: 3, 1: 4}
	for label, n := range appends {
		for i := 0; i < n; i++ {
			if err := s.Append(pool.New([]float32{float32(i)}), label); err != nil {
				t.Fatalf("Append(%d): %v", label, err)
			}
		}
	}

	for label, n := range appends {
		if got := s.CountFor(label); got != n {
			t.Errorf("CountFor(%d) = %d, want %d", label, got, n)
		}
	}
	if s.Len() != 7 {
		t.Errorf("Len = %d, want 7", s.Len())
	}
	if len(s.Missing()) != 0 {
		t.Errorf("Missing = %v, want none", s.Missing())
	}
}

func TestAppendErrors(t *testing.T) {
	pool := features.NewPool(2)
	s := New(2)

	if err := s.Append(nil, 0); !errors.Is(err, ErrNilEmbedding) {
		t.Errorf("Append(nil): got %v, want ErrNilEmbedding", err)
	}

	e := pool.New(nil)
	defer e.Release()
	if err := s.Append(e, 2); !errors.Is(err, labels.ErrUnknownLabel) {
		t.Errorf("Append(label 2): got %v, want ErrUnknownLabel", err)
	}
	if s.Len() != 0 {
		t.Errorf("failed appends should not be stored, Len = %d", s.Len())
	}
}

func TestMissing(t *testing.T) {
	pool := features.NewPool(2)
	s := New(3)
	s.Append(pool.New(nil), 1)

	missing := s.Missing()
	if len(missing) != 2 || missing[0] != 0 || missing[1] != 2 {
		t.Errorf("Missing = %v, want [0 2]", missing)
	}
	if s.CountFor(-1) != 0 || s.CountFor(9) != 0 {
		t.Error("CountFor unknown label should be 0")
	}
}

func TestClearReleasesEmbeddings(t *testing.T) {
	pool := features.NewPool(8)
	s := New(2)

	var embs []*features.Embedding
	for i := 0; i < 10; i++ {
		e := pool.New([]float32{1})
		embs = append(embs, e)
		s.Append(e, i%2)
	}
	if pool.Live() != 10 {
		t.Fatalf("Live = %d, want 10", pool.Live())
	}

	s.Clear()

	if pool.Live() != 0 {
		t.Errorf("Live after Clear = %d, want 0", pool.Live())
	}
	for i, e := range embs {
		if !e.Released() {
			t.Errorf("embedding %d not released", i)
		}
	}
	for label := 0; label < 2; label++ {
		if s.CountFor(label) != 0 {
			t.Errorf("CountFor(%d) after Clear = %d", label, s.CountFor(label))
		}
	}
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d", s.Len())
	}
}

func TestSnapshotIsAligned(t *testing.T) {
	pool := features.NewPool(1)
	s := New(2)
	for i := 0; i < 6; i++ {
		s.Append(pool.New([]float32{float32(i)}), i%2)
	}

	embs, lbls := s.Snapshot()
	if len(embs) != len(lbls) {
		t.Fatalf("snapshot lengths differ: %d vs %d", len(embs), len(lbls))
	}
	for i := range embs {
		if int(embs[i].Vector()[0])%2 != lbls[i] {
			t.Errorf("snapshot %d misaligned", i)
		}
	}

	// Reordering the snapshot must not affect the store.
	lbls[0], lbls[1] = lbls[1], lbls[0]
	if s.Counts()[0] != 3 {
		t.Error("snapshot mutation leaked into store")
	}
}
