package agents

import (
	"context"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
)

// Scripted replays a fixed decision schedule: a map from tick number to the
// actions proposed at that tick. Two runs with the same schedule propose
// identical actions, which makes scripted agents the replayable stand-in for
// externally computed proposals.
type Scripted struct {
	profile  Profile
	schedule map[int][]contracts.Action
}

// NewScripted builds a scripted agent over a profile and schedule.
func NewScripted(profile Profile, schedule map[int][]contracts.Action) *Scripted {
	return &Scripted{profile: profile, schedule: schedule}
}

// Role returns the profile role.
func (s *Scripted) Role() string { return s.profile.Role }

// Profile exposes the agent's configuration.
func (s *Scripted) Profile() Profile { return s.profile }

// CanExecute defers to the profile's permission allow-list.
func (s *Scripted) CanExecute(actionType contracts.ActionType) bool {
	return s.profile.CanExecute(actionType)
}

// Propose returns the schedule entry for the current tick, stamped with the
// agent's role and the simulated time.
func (s *Scripted) Propose(ctx context.Context, ic Context, snap Snapshot, cons Constraints) ([]contracts.Action, error) {
	scheduled := s.schedule[ic.CurrentTick]
	if len(scheduled) == 0 {
		return nil, nil
	}
	out := make([]contracts.Action, len(scheduled))
	for i, act := range scheduled {
		act.AgentRole = s.profile.Role
		act.IssuedAt = ic.CurrentTime
		out[i] = act
	}
	return out, nil
}
