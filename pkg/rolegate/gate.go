package rolegate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	FirstStage = 1
	LastStage  = 6
)

func ValidStage(stage int) bool {
	return stage >= FirstStage && stage <= LastStage
}

// Policy maps each stage to the roles allowed to act on it.
type Policy struct {
	Stages map[int][]Role `yaml:"stages" json:"stages"`
}

func DefaultPolicy() Policy {
	return Policy{Stages: map[int][]Role{
		1: {RoleConsultant},
		2: {RoleLabTechnician},
		3: {RoleConsultant},
		4: {RoleNutritionist},
		5: {RoleSystem},
		6: {RoleChef, RoleDelivery},
	}}
}

func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultPolicy(), err
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return Policy{}, err
	}
	if len(policy.Stages) == 0 {
		return Policy{}, errors.New("no stage roles configured")
	}
	return policy, nil
}

// Gate answers the pure (role, stage) authorization question. It holds no
// mutable state and is safe for concurrent use.
type Gate struct {
	stages map[int]map[Role]struct{}
}

func New(policy Policy) (*Gate, error) {
	stages := make(map[int]map[Role]struct{}, len(policy.Stages))
	for stage, roles := range policy.Stages {
		if !ValidStage(stage) {
			return nil, fmt.Errorf("stage %d out of range %d..%d", stage, FirstStage, LastStage)
		}
		allowed := make(map[Role]struct{}, len(roles))
		for _, role := range roles {
			if !role.Valid() {
				return nil, fmt.Errorf("stage %d: unknown role %q", stage, role)
			}
			allowed[role] = struct{}{}
		}
		stages[stage] = allowed
	}
	return &Gate{stages: stages}, nil
}

func Default() *Gate {
	gate, err := New(DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return gate
}

func (g *Gate) CanActOnStage(role Role, stage int) bool {
	allowed, ok := g.stages[stage]
	if !ok {
		return false
	}
	_, ok = allowed[role]
	return ok
}

// CanRecordDocument applies the stage table; unstaged documents may be
// recorded by any staff role.
func (g *Gate) CanRecordDocument(role Role, stage *int) bool {
	if stage == nil {
		return IsStaffRole(role)
	}
	return g.CanActOnStage(role, *stage)
}

func (g *Gate) RolesForStage(stage int) []Role {
	allowed := g.stages[stage]
	roles := make([]Role, 0, len(allowed))
	for role := range allowed {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
