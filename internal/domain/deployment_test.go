package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestValidStatusTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{DeploymentStatusPending, DeploymentStatusBuilding, true},
		{DeploymentStatusPending, DeploymentStatusSuccess, true},
		{DeploymentStatusPending, DeploymentStatusFailed, true},
		{DeploymentStatusPending, DeploymentStatusCancelled, true},
		{DeploymentStatusBuilding, DeploymentStatusSuccess, true},
		{DeploymentStatusBuilding, DeploymentStatusFailed, true},

		{DeploymentStatusBuilding, DeploymentStatusPending, false},
		{DeploymentStatusBuilding, DeploymentStatusCancelled, false},
		{DeploymentStatusSuccess, DeploymentStatusBuilding, false},
		{DeploymentStatusSuccess, DeploymentStatusFailed, false},
		{DeploymentStatusFailed, DeploymentStatusSuccess, false},
		{DeploymentStatusCancelled, DeploymentStatusPending, false},
		{DeploymentStatusPending, DeploymentStatusPending, false},
		{DeploymentStatusPending, "bogus", false},
	}
	for _, tc := range tests {
		if got := ValidStatusTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("ValidStatusTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidPhaseTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{PhaseInit, PhaseClone, true},
		{PhaseInit, PhaseComplete, true},
		{PhaseBuild, PhaseBuild, true},
		{PhaseClone, PhaseDeploy, true},

		{PhaseBuild, PhaseClone, false},
		{PhaseComplete, PhaseInit, false},
		{PhaseDeploy, PhaseBuild, false},
	}
	for _, tc := range tests {
		if got := ValidPhaseTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("ValidPhaseTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatus(t *testing.T) {
	for _, status := range []string{DeploymentStatusSuccess, DeploymentStatusFailed, DeploymentStatusCancelled} {
		if !TerminalStatus(status) {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []string{DeploymentStatusPending, DeploymentStatusBuilding} {
		if TerminalStatus(status) {
			t.Errorf("%s should not be terminal", status)
		}
	}
}

func TestDeploymentDurationMarshalsAsSeconds(t *testing.T) {
	completed := time.Date(2025, 6, 1, 12, 2, 30, 0, time.UTC)
	seconds := 150.5
	deployment := Deployment{
		ID:              "d1",
		Status:          DeploymentStatusSuccess,
		Phase:           PhaseComplete,
		StartedAt:       completed.Add(-150 * time.Second),
		CompletedAt:     &completed,
		DurationSeconds: &seconds,
	}

	encoded, err := json.Marshal(deployment)
	if err != nil {
		t.Fatalf("marshal deployment: %v", err)
	}
	if !strings.Contains(string(encoded), `"durationSeconds":150.5`) {
		t.Fatalf("duration must be serialized in seconds, got %s", encoded)
	}
}

func TestEnvironmentAllowsBranch(t *testing.T) {
	env := Environment{
		AutoDeploy:         true,
		AutoDeployBranches: []string{"main", "develop"},
		DeployStrategy:     StrategyBranch,
	}
	if !env.AllowsBranch("main") {
		t.Errorf("main should be allowed")
	}
	if env.AllowsBranch("feature/widget") {
		t.Errorf("unlisted branch should be refused")
	}

	env.AutoDeploy = false
	if env.AllowsBranch("main") {
		t.Errorf("autoDeploy off must refuse every branch")
	}
}
