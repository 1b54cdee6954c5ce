package rolegate

import (
	"os"
	"path/filepath"
	"testing"
)

var allRoles = []Role{RoleCustomer, RoleConsultant, RoleLabTechnician, RoleNutritionist, RoleChef, RoleDelivery, RoleAdmin, RoleSystem}

func TestDefaultGateTable(t *testing.T) {
	gate := Default()
	want := map[int][]Role{
		1: {RoleConsultant},
		2: {RoleLabTechnician},
		3: {RoleConsultant},
		4: {RoleNutritionist},
		5: {RoleSystem},
		6: {RoleChef, RoleDelivery},
	}
	for stage := FirstStage; stage <= LastStage; stage++ {
		allowed := map[Role]bool{}
		for _, role := range want[stage] {
			allowed[role] = true
		}
		for _, role := range allRoles {
			if got := gate.CanActOnStage(role, stage); got != allowed[role] {
				t.Fatalf("stage %d role %s: expected %v, got %v", stage, role, allowed[role], got)
			}
		}
	}
}

func TestGateRejectsOutOfRangeStage(t *testing.T) {
	gate := Default()
	for _, stage := range []int{0, 7, -1} {
		for _, role := range allRoles {
			if gate.CanActOnStage(role, stage) {
				t.Fatalf("stage %d should not be actionable by %s", stage, role)
			}
		}
	}
}

func TestCanRecordDocument(t *testing.T) {
	gate := Default()
	four := 4
	if !gate.CanRecordDocument(RoleNutritionist, &four) {
		t.Fatal("nutritionist should record stage 4 documents")
	}
	if gate.CanRecordDocument(RoleConsultant, &four) {
		t.Fatal("consultant should not record stage 4 documents")
	}
	for _, role := range []Role{RoleConsultant, RoleLabTechnician, RoleNutritionist, RoleChef, RoleDelivery, RoleAdmin} {
		if !gate.CanRecordDocument(role, nil) {
			t.Fatalf("%s should record unstaged documents", role)
		}
	}
	for _, role := range []Role{RoleCustomer, RoleSystem} {
		if gate.CanRecordDocument(role, nil) {
			t.Fatalf("%s should not record unstaged documents", role)
		}
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Lab_Technician ")
	if err != nil || role != RoleLabTechnician {
		t.Fatalf("expected lab_technician, got %q (%v)", role, err)
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestLoadPolicyFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "stages:\n  1: [consultant, admin]\n  2: [lab_technician]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	gate, err := New(policy)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	if !gate.CanActOnStage(RoleAdmin, 1) {
		t.Fatal("expected admin to act on stage 1 under custom policy")
	}
	if gate.CanActOnStage(RoleNutritionist, 4) {
		t.Fatal("stage 4 is not configured in custom policy")
	}
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	if _, err := New(Policy{Stages: map[int][]Role{9: {RoleAdmin}}}); err == nil {
		t.Fatal("expected out of range stage to be rejected")
	}
	if _, err := New(Policy{Stages: map[int][]Role{1: {"wizard"}}}); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestLoadPolicyEmptyPathUsesDefault(t *testing.T) {
	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if len(policy.Stages) != LastStage {
		t.Fatalf("expected %d stages, got %d", LastStage, len(policy.Stages))
	}
}
