package consensus

import (
	"testing"
)

func TestValidatorStateString(t *testing.T) {
	tests := []struct {
		state ValidatorState
		want  string
	}{
		{StatePending, "pending"},
		{StateActive, "active"},
		{StateExiting, "exiting"},
		{StateExited, "exited"},
		{StateWithdrawable, "withdrawable"},
		{StateSlashed, "slashed"},
		{ValidatorState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ValidatorState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestValidatorLifecycleState(t *testing.T) {
	v := &Validator{
		ActivationEligibilityEpoch: FarFutureEpoch,
		ActivationEpoch:            FarFutureEpoch,
		ExitEpoch:                  FarFutureEpoch,
		WithdrawableEpoch:          FarFutureEpoch,
	}
	if got := ValidatorLifecycleState(v, 0); got != StatePending {
		t.Errorf("expected StatePending, got %s", got)
	}

	v.ActivationEligibilityEpoch = 5
	v.ActivationEpoch = 10
	if got := ValidatorLifecycleState(v, 5); got != StatePending {
		t.Errorf("before activation: expected StatePending, got %s", got)
	}
	if got := ValidatorLifecycleState(v, 10); got != StateActive {
		t.Errorf("at activation: expected StateActive, got %s", got)
	}

	v.ExitEpoch = 100
	v.WithdrawableEpoch = 100 + 256
	if got := ValidatorLifecycleState(v, 50); got != StateExiting {
		t.Errorf("before exit: expected StateExiting, got %s", got)
	}
	if got := ValidatorLifecycleState(v, 100); got != StateExited {
		t.Errorf("at exit: expected StateExited, got %s", got)
	}
	if got := ValidatorLifecycleState(v, 356); got != StateWithdrawable {
		t.Errorf("at withdrawable: expected StateWithdrawable, got %s", got)
	}
}

func TestValidatorLifecycleSlashedState(t *testing.T) {
	params := DefaultConfig()
	v := &Validator{
		ActivationEpoch:   10,
		ExitEpoch:         100,
		WithdrawableEpoch: Epoch(100 + params.LatestSlashedExitLength),
		Slashed:           true,
	}
	if got := ValidatorLifecycleState(v, 50); got != StateSlashed {
		t.Errorf("expected StateSlashed, got %s", got)
	}
	if got := ValidatorLifecycleState(v, Epoch(100+params.LatestSlashedExitLength)); got != StateWithdrawable {
		t.Errorf("expected StateWithdrawable, got %s", got)
	}
}

func TestValidatorIsSlashable(t *testing.T) {
	v := &Validator{
		ActivationEpoch: 10, ExitEpoch: FarFutureEpoch, WithdrawableEpoch: FarFutureEpoch,
	}
	if v.IsSlashable(5) {
		t.Error("should not be slashable before activation")
	}
	if !v.IsSlashable(10) {
		t.Error("should be slashable at activation epoch")
	}
	v.Slashed = true
	if v.IsSlashable(50) {
		t.Error("should not be slashable if already slashed")
	}
}

func lifecycleTestState(t *testing.T, n int) (*BeaconState, *ChainParams) {
	t.Helper()
	params := DefaultConfig()
	state := NewGenesisState(params)
	for i := 0; i < n; i++ {
		state.AddValidator(Validator{
			EffectiveBalance:           params.MaxEffectiveBalance,
			ActivationEligibilityEpoch: FarFutureEpoch,
			ActivationEpoch:            FarFutureEpoch,
			ExitEpoch:                  FarFutureEpoch,
			WithdrawableEpoch:          FarFutureEpoch,
		}, params.MaxEffectiveBalance)
	}
	return state, params
}

func TestProcessRegistryUpdatesActivatesEligible(t *testing.T) {
	state, params := lifecycleTestState(t, 10)
	for i := range state.Validators {
		state.Validators[i].ActivationEligibilityEpoch = Epoch(i)
	}

	// With zero active validators, churn limit is MinPerEpochChurnLimit (4).
	activated := ProcessRegistryUpdates(state, params, 20)
	if len(activated) != 4 {
		t.Fatalf("batch 1: activated %d, want 4", len(activated))
	}
	for i := 0; i < len(activated)-1; i++ {
		if activated[i] > activated[i+1] {
			t.Errorf("not in order: %v", activated)
			break
		}
	}
	if a2 := ProcessRegistryUpdates(state, params, 20); len(a2) != 4 {
		t.Errorf("batch 2: %d, want 4", len(a2))
	}
	if a3 := ProcessRegistryUpdates(state, params, 20); len(a3) != 2 {
		t.Errorf("batch 3: %d, want 2", len(a3))
	}
	if a4 := ProcessRegistryUpdates(state, params, 20); len(a4) != 0 {
		t.Errorf("batch 4: %d, want 0", len(a4))
	}
}

func TestProcessRegistryUpdatesSetsEligibility(t *testing.T) {
	state, params := lifecycleTestState(t, 1)
	ProcessRegistryUpdates(state, params, 5)
	v, _ := state.Validator(0)
	if v.ActivationEligibilityEpoch != 6 {
		t.Errorf("eligibility epoch = %d, want 6", v.ActivationEligibilityEpoch)
	}
}

func TestProcessRegistryUpdatesEjectsLowBalance(t *testing.T) {
	state, params := lifecycleTestState(t, 2)
	state.Validators[0].ActivationEpoch = 1
	state.Validators[1].ActivationEpoch = 1
	state.Validators[1].EffectiveBalance = params.EjectionBalance

	ProcessRegistryUpdates(state, params, 50)
	v1, _ := state.Validator(1)
	if v1.ExitEpoch == FarFutureEpoch {
		t.Error("ejected validator should have exit epoch set")
	}
	v0, _ := state.Validator(0)
	if v0.ExitEpoch != FarFutureEpoch {
		t.Error("validator above ejection balance should not be ejected")
	}
}

func TestInitiateValidatorExit(t *testing.T) {
	state, params := lifecycleTestState(t, 1)
	state.Validators[0].ActivationEpoch = 10

	if err := InitiateValidatorExit(state, params, 0, 50); err != nil {
		t.Fatalf("InitiateValidatorExit: %v", err)
	}
	v, _ := state.Validator(0)
	expectedExit := computeActivationExitEpoch(50, params)
	if v.ExitEpoch != expectedExit {
		t.Errorf("exit = %d, want %d", v.ExitEpoch, expectedExit)
	}
	expectedW := Epoch(uint64(expectedExit) + params.MinValidatorWithdrawabilityDelay)
	if v.WithdrawableEpoch != expectedW {
		t.Errorf("withdrawable = %d, want %d", v.WithdrawableEpoch, expectedW)
	}
	// Already exiting: no-op, no error.
	if err := InitiateValidatorExit(state, params, 0, 60); err != nil {
		t.Errorf("expected no-op on already-exiting validator, got %v", err)
	}
}

func TestInitiateValidatorExitNotActive(t *testing.T) {
	state, params := lifecycleTestState(t, 1)
	if err := InitiateValidatorExit(state, params, 0, 50); err != ErrLifecycleNotActive {
		t.Errorf("expected not active, got %v", err)
	}
}

func TestExitQueueChurnLimit(t *testing.T) {
	state, params := lifecycleTestState(t, 10)
	for i := range state.Validators {
		state.Validators[i].ActivationEpoch = 1
	}
	for i := ValidatorIndex(0); i < 5; i++ {
		if err := InitiateValidatorExit(state, params, i, 50); err != nil {
			t.Fatalf("InitiateValidatorExit(%d): %v", i, err)
		}
	}
	v4, _ := state.Validator(4)
	v0, _ := state.Validator(0)
	if v4.ExitEpoch <= v0.ExitEpoch {
		t.Logf("v0 exit=%d, v4 exit=%d (churn spill expected)", v0.ExitEpoch, v4.ExitEpoch)
	}
}

func TestSlashValidator(t *testing.T) {
	state, params := lifecycleTestState(t, 1)
	state.Validators[0].ActivationEpoch = 10

	penalty, err := SlashValidator(state, params, 0, 50)
	if err != nil {
		t.Fatalf("SlashValidator: %v", err)
	}
	expectedPenalty := params.MaxEffectiveBalance / params.MinSlashingPenaltyQuotient
	if penalty != expectedPenalty {
		t.Errorf("penalty = %d, want %d", penalty, expectedPenalty)
	}
	v, _ := state.Validator(0)
	if !v.Slashed {
		t.Error("should be slashed")
	}
	if v.ExitEpoch == FarFutureEpoch {
		t.Error("should have exit epoch set")
	}
	expectedW := Epoch(50 + params.LatestSlashedExitLength)
	if v.WithdrawableEpoch != expectedW {
		t.Errorf("withdrawable = %d, want %d", v.WithdrawableEpoch, expectedW)
	}
	if state.Balances[0] != params.MaxEffectiveBalance-expectedPenalty {
		t.Errorf("balance = %d, want %d", state.Balances[0], params.MaxEffectiveBalance-expectedPenalty)
	}
	if _, err = SlashValidator(state, params, 0, 50); err != ErrLifecycleAlreadySlashed {
		t.Errorf("expected already slashed, got %v", err)
	}
}

func TestSlashValidatorNotActive(t *testing.T) {
	state, params := lifecycleTestState(t, 1)
	if _, err := SlashValidator(state, params, 0, 50); err != ErrLifecycleNotActive {
		t.Errorf("expected not active, got %v", err)
	}
}

func TestUpdateEffectiveBalances(t *testing.T) {
	state, params := lifecycleTestState(t, 1)
	state.Balances[0] = params.MaxEffectiveBalance - params.EffectiveBalanceIncrement
	UpdateEffectiveBalances(state, params)
	v, _ := state.Validator(0)
	if v.EffectiveBalance >= params.MaxEffectiveBalance {
		t.Errorf("effective balance should have decreased, got %d", v.EffectiveBalance)
	}
}

func TestLifecycleStats(t *testing.T) {
	state, params := lifecycleTestState(t, 6)
	for i := 3; i < 5; i++ {
		state.Validators[i].ActivationEpoch = 1
	}
	state.Validators[5].ActivationEpoch = 1
	state.Validators[5].ExitEpoch = 100
	state.Validators[5].WithdrawableEpoch = Epoch(100 + params.MinValidatorWithdrawabilityDelay)

	stats := LifecycleStats(state, 50)
	if stats.PendingCount != 3 {
		t.Errorf("pending = %d, want 3", stats.PendingCount)
	}
	if stats.ActiveCount != 2 {
		t.Errorf("active = %d, want 2", stats.ActiveCount)
	}
	if stats.ExitingCount != 1 {
		t.Errorf("exiting = %d, want 1", stats.ExitingCount)
	}
	expected := uint64(3) * params.MaxEffectiveBalance
	if stats.TotalActiveBalance != expected {
		t.Errorf("total active = %d, want %d", stats.TotalActiveBalance, expected)
	}
}

func TestActiveValidatorIndicesLifecycle(t *testing.T) {
	state, _ := lifecycleTestState(t, 5)
	for _, idx := range []int{0, 2, 4} {
		state.Validators[idx].ActivationEpoch = 1
	}
	indices := state.ActiveValidatorIndices(10)
	if len(indices) != 3 {
		t.Fatalf("active = %d, want 3", len(indices))
	}
	for i, want := range []ValidatorIndex{0, 2, 4} {
		if indices[i] != want {
			t.Errorf("indices[%d] = %d, want %d", i, indices[i], want)
		}
	}
}

func TestComputeActivationExitEpoch(t *testing.T) {
	params := DefaultConfig()
	if got := computeActivationExitEpoch(10, params); got != 15 {
		t.Errorf("got %d, want 15", got)
	}
	if got := computeActivationExitEpoch(0, params); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestComputeChurnLimit(t *testing.T) {
	params := DefaultConfig()
	if got := computeChurnLimit(100, params); got != params.MinPerEpochChurnLimit {
		t.Errorf("got %d, want %d", got, params.MinPerEpochChurnLimit)
	}
	if got := computeChurnLimit(1_000_000, params); got != 15 {
		t.Errorf("got %d, want 15", got)
	}
}

func TestFullLifecycleFlow(t *testing.T) {
	state, params := lifecycleTestState(t, 1)
	ProcessRegistryUpdates(state, params, 5)
	v, _ := state.Validator(0)
	if v.ActivationEligibilityEpoch != 6 {
		t.Fatalf("eligibility epoch = %d, want 6", v.ActivationEligibilityEpoch)
	}

	activated := ProcessRegistryUpdates(state, params, 10)
	if len(activated) != 1 {
		t.Fatalf("expected 1 activated, got %d", len(activated))
	}
	v, _ = state.Validator(0)
	if ValidatorLifecycleState(v, v.ActivationEpoch) != StateActive {
		t.Fatal("expected active")
	}

	exitEpoch := v.ActivationEpoch + 100
	if err := InitiateValidatorExit(state, params, 0, exitEpoch); err != nil {
		t.Fatalf("exit: %v", err)
	}
	v, _ = state.Validator(0)
	if ValidatorLifecycleState(v, exitEpoch) != StateExiting {
		t.Fatal("expected exiting")
	}
	if ValidatorLifecycleState(v, v.ExitEpoch) != StateExited {
		t.Fatal("expected exited")
	}
	if ValidatorLifecycleState(v, v.WithdrawableEpoch) != StateWithdrawable {
		t.Fatal("expected withdrawable")
	}
}
