package state

import (
	"testing"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/pkg/models"
)

func TestCreateRun_Defaults(t *testing.T) {
	s := setupTestStore(t)

	run := &models.Run{Description: "ship the parser"}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == "" {
		t.Error("CreateRun should generate an id")
	}
	if run.Status != models.RunActive {
		t.Errorf("Status = %q, want active", run.Status)
	}
	if run.CreatedAt.IsZero() {
		t.Error("CreatedAt should be server-set")
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil for existing run")
	}
	if got.Description != "ship the parser" {
		t.Errorf("Description = %q", got.Description)
	}
}

func TestCreateRun_SingleActive(t *testing.T) {
	s := setupTestStore(t)

	if err := s.CreateRun(&models.Run{}); err != nil {
		t.Fatalf("first CreateRun failed: %v", err)
	}

	err := s.CreateRun(&models.Run{})
	if err == nil {
		t.Fatal("expected error creating a second active run")
	}
	if !errs.HasKind(err, errs.KindValidation) {
		t.Errorf("error kind = %q, want ValidationError", errs.KindOf(err))
	}
}

func TestGetActiveRun(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.GetActiveRun()
	if err != nil {
		t.Fatalf("GetActiveRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetActiveRun = %+v, want nil on empty store", got)
	}

	run := &models.Run{}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err = s.GetActiveRun()
	if err != nil {
		t.Fatalf("GetActiveRun failed: %v", err)
	}
	if got == nil || got.ID != run.ID {
		t.Errorf("GetActiveRun = %+v, want run %s", got, run.ID)
	}

	if err := s.CompleteRun(run.ID); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	got, err = s.GetActiveRun()
	if err != nil {
		t.Fatalf("GetActiveRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetActiveRun = %+v, want nil after completion", got)
	}

	// completing the run frees the active slot
	if err := s.CreateRun(&models.Run{}); err != nil {
		t.Errorf("CreateRun after completion failed: %v", err)
	}
}

func TestCompleteRun(t *testing.T) {
	s := setupTestStore(t)

	run := &models.Run{}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := s.CompleteRun(run.ID); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, _ := s.GetRun(run.ID)
	if got.Status != models.RunCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}

	// idempotent
	if err := s.CompleteRun(run.ID); err != nil {
		t.Errorf("second CompleteRun failed: %v", err)
	}

	if err := s.CompleteRun("no-such-run"); err == nil {
		t.Error("expected error completing a missing run")
	}
}

func TestIncrementAgentCount(t *testing.T) {
	s := setupTestStore(t)

	run := &models.Run{}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementAgentCount(run.ID); err != nil {
			t.Fatalf("IncrementAgentCount failed: %v", err)
		}
	}

	got, _ := s.GetRun(run.ID)
	if got.AgentCount != 3 {
		t.Errorf("AgentCount = %d, want 3", got.AgentCount)
	}

	if err := s.IncrementAgentCount("no-such-run"); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestListRuns(t *testing.T) {
	s := setupTestStore(t)

	run := &models.Run{}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := s.CompleteRun(run.ID); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	second := &models.Run{}
	if err := s.CreateRun(second); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("ListRuns returned %d runs, want 2", len(runs))
	}

	runs, err = s.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns(1) failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("ListRuns(1) returned %d runs, want 1", len(runs))
	}
}
