package store_test

import (
	"context"
	"testing"

	"github.com/dshills/launchpad-go/model"
	"github.com/dshills/launchpad-go/store"
)

// runConformance exercises the Store contract (spec §4.1, §6) against any
// backend. Every concrete implementation's test file calls this with its
// own constructor so the three backends are held to identical behavior.
func runConformance(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("insert and get firework", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		fw := model.NewFirework("build", map[string]interface{}{"x": float64(1)}, nil)
		fw.FwID = 1
		if err := s.InsertFirework(ctx, fw); err != nil {
			t.Fatalf("InsertFirework() error: %v", err)
		}

		got, err := s.GetFirework(ctx, 1, -1)
		if err != nil {
			t.Fatalf("GetFirework() error: %v", err)
		}
		if got.Name != "build" {
			t.Errorf("Name = %q, want build", got.Name)
		}
	})

	t.Run("insert duplicate key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		fw := model.NewFirework("build", nil, nil)
		fw.FwID = 2
		if err := s.InsertFirework(ctx, fw); err != nil {
			t.Fatalf("first InsertFirework() error: %v", err)
		}
		if err := s.InsertFirework(ctx, fw); err != store.ErrDuplicateKey {
			t.Errorf("second InsertFirework() error = %v, want ErrDuplicateKey", err)
		}
	})

	t.Run("get firework not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetFirework(context.Background(), 999, -1); err != store.ErrNotFound {
			t.Errorf("GetFirework() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("replace firework upsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		fw := model.NewFirework("build", nil, nil)
		fw.FwID = 3
		if err := s.ReplaceFirework(ctx, fw, true); err != nil {
			t.Fatalf("ReplaceFirework(upsert) error: %v", err)
		}

		fw.Touch(model.StateCompleted, "")
		if err := s.ReplaceFirework(ctx, fw, true); err != nil {
			t.Fatalf("second ReplaceFirework() error: %v", err)
		}

		got, err := s.GetFirework(ctx, 3, -1)
		if err != nil {
			t.Fatalf("GetFirework() error: %v", err)
		}
		if got.State != model.StateCompleted {
			t.Errorf("State = %q, want COMPLETED", got.State)
		}
	})

	t.Run("replace firework without upsert requires existing", func(t *testing.T) {
		s := newStore(t)
		fw := model.NewFirework("build", nil, nil)
		fw.FwID = 4
		if err := s.ReplaceFirework(context.Background(), fw, false); err != store.ErrNotFound {
			t.Errorf("ReplaceFirework(no upsert) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("reserve ready orders by priority then launch_idx then created_on", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		low := model.NewFirework("low", map[string]interface{}{"_priority": float64(5)}, nil)
		low.FwID = 10
		low.State = model.StateReady
		mid := model.NewFirework("mid", map[string]interface{}{"_priority": float64(10)}, nil)
		mid.FwID = 11
		mid.State = model.StateReady
		high := model.NewFirework("high", map[string]interface{}{"_priority": float64(10)}, nil)
		high.FwID = 12
		high.State = model.StateReady
		high.CreatedOn = mid.CreatedOn.Add(1)

		for _, fw := range []*model.Firework{low, mid, high} {
			if err := s.InsertFirework(ctx, fw); err != nil {
				t.Fatalf("InsertFirework(%d) error: %v", fw.FwID, err)
			}
		}

		filter := store.FireworkFilter{States: []model.State{model.StateReady}}
		sortPolicy := store.SortPolicy{Fields: []store.SortField{
			{Field: "spec._priority", Direction: store.Descending},
			{Field: "launch_idx", Direction: store.Descending},
			{Field: "created_on", Direction: store.Ascending},
		}}

		got, err := s.ReserveReady(ctx, filter, sortPolicy)
		if err != nil {
			t.Fatalf("ReserveReady() error: %v", err)
		}
		if got.FwID != mid.FwID {
			t.Errorf("ReserveReady() chose fw_id=%d, want %d (priority 10, earliest created_on)", got.FwID, mid.FwID)
		}
		if got.State != model.StateReserved {
			t.Errorf("State after reserve = %q, want RESERVED", got.State)
		}
	})

	t.Run("reserve ready no match", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReserveReady(context.Background(), store.FireworkFilter{States: []model.State{model.StateReady}}, store.SortPolicy{})
		if err != store.ErrNotFound {
			t.Errorf("ReserveReady() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("insert and get workflow by node", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wf := model.NewWorkflow("wf-a", []int{20, 21}, map[int][]int{20: {21}}, map[int]model.State{20: model.StateReady, 21: model.StateWaiting}, nil)
		if err := s.InsertWorkflow(ctx, wf); err != nil {
			t.Fatalf("InsertWorkflow() error: %v", err)
		}

		got, err := s.GetWorkflowByNode(ctx, 21)
		if err != nil {
			t.Fatalf("GetWorkflowByNode() error: %v", err)
		}
		if got.Name != "wf-a" {
			t.Errorf("Name = %q, want wf-a", got.Name)
		}
	})

	t.Run("workflow lock acquire release", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wf := model.NewWorkflow("wf-b", []int{30}, nil, map[int]model.State{30: model.StateReady}, nil)
		if err := s.InsertWorkflow(ctx, wf); err != nil {
			t.Fatalf("InsertWorkflow() error: %v", err)
		}

		acquired, err := s.AcquireWorkflowLock(ctx, 30)
		if err != nil {
			t.Fatalf("AcquireWorkflowLock() error: %v", err)
		}
		if !acquired {
			t.Fatal("AcquireWorkflowLock() = false, want true on first attempt")
		}

		acquired2, err := s.AcquireWorkflowLock(ctx, 30)
		if err != nil {
			t.Fatalf("second AcquireWorkflowLock() error: %v", err)
		}
		if acquired2 {
			t.Error("AcquireWorkflowLock() = true while already locked, want false")
		}

		if err := s.ReleaseWorkflowLock(ctx, 30); err != nil {
			t.Fatalf("ReleaseWorkflowLock() error: %v", err)
		}

		acquired3, err := s.AcquireWorkflowLock(ctx, 30)
		if err != nil {
			t.Fatalf("third AcquireWorkflowLock() error: %v", err)
		}
		if !acquired3 {
			t.Error("AcquireWorkflowLock() after release = false, want true")
		}
	})

	t.Run("next fw ids bulk reservation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.ResetFwIDCounter(ctx, 100); err != nil {
			t.Fatalf("ResetFwIDCounter() error: %v", err)
		}

		first, err := s.NextFwIDs(ctx, 5)
		if err != nil {
			t.Fatalf("NextFwIDs() error: %v", err)
		}
		if first != 100 {
			t.Errorf("first = %d, want 100", first)
		}

		second, err := s.NextFwIDs(ctx, 1)
		if err != nil {
			t.Fatalf("second NextFwIDs() error: %v", err)
		}
		if second != 105 {
			t.Errorf("second = %d, want 105", second)
		}
	})

	t.Run("blob put and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		blob := s.Blob()
		if blob == nil {
			t.Skip("store has no blob side-store configured")
		}

		id, err := blob.Put(ctx, []byte(`{"stored_data":{"result":42}}`), map[string]interface{}{"fw_id": 1, "launch_idx": 1})
		if err != nil {
			t.Fatalf("Put() error: %v", err)
		}

		data, err := blob.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if string(data) != `{"stored_data":{"result":42}}` {
			t.Errorf("Get() = %q, want the original payload", data)
		}
	})

	t.Run("delete workflow removes fireworks", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		fw := model.NewFirework("leaf", nil, nil)
		fw.FwID = 40
		if err := s.InsertFirework(ctx, fw); err != nil {
			t.Fatalf("InsertFirework() error: %v", err)
		}
		wf := model.NewWorkflow("wf-c", []int{40}, nil, map[int]model.State{40: model.StateReady}, nil)
		if err := s.InsertWorkflow(ctx, wf); err != nil {
			t.Fatalf("InsertWorkflow() error: %v", err)
		}

		if err := s.DeleteWorkflow(ctx, 40); err != nil {
			t.Fatalf("DeleteWorkflow() error: %v", err)
		}
		if _, err := s.GetWorkflowByNode(ctx, 40); err != store.ErrNotFound {
			t.Errorf("GetWorkflowByNode() after delete error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetFirework(ctx, 40, -1); err != store.ErrNotFound {
			t.Errorf("GetFirework() after delete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("tuneup is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Tuneup(ctx, true); err != nil {
			t.Fatalf("first Tuneup() error: %v", err)
		}
		if err := s.Tuneup(ctx, true); err != nil {
			t.Fatalf("second Tuneup() error: %v", err)
		}
	})
}
