package dialogue

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T) (*Machine, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	m := NewMachine(NewContext("conv-1", "visitor-1", clk.Now()), WithClock(clk))
	return m, clk
}

func TestCanTransitionTo_Legality(t *testing.T) {
	m, _ := newTestMachine(t)

	res := m.CanTransitionTo(StageQuoteGenerated)
	assert.False(t, res.Allowed)
	assert.Empty(t, res.Missing, "quote stage is not a successor of greeting")

	assert.True(t, m.CanTransitionTo(StageBusinessLookup).Allowed)
	assert.True(t, m.CanTransitionTo(StageServiceSelect).Allowed)
	assert.True(t, m.CanTransitionTo(StageHumanEscalation).Allowed)
	assert.True(t, m.CanTransitionTo(StageErrorRecovery).Allowed)
	assert.False(t, m.CanTransitionTo(StageGreeting).Allowed)
	assert.False(t, m.CanTransitionTo(Stage("nowhere")).Allowed)
}

func TestCanTransitionTo_ListsExactlyMissingFields(t *testing.T) {
	m, _ := newTestMachine(t)
	require.True(t, m.TransitionTo(StageServiceSelect, Patch{}).Allowed)
	require.True(t, m.TransitionTo(StageLocationOrigin, Patch{ServiceType: Ptr(ServiceOffice)}).Allowed)

	res := m.CanTransitionTo(StageQuoteGenerated)
	assert.False(t, res.Allowed)
	assert.Equal(t, []Field{FieldOriginSuburb, FieldDestinationSuburb, FieldQuoteAmount}, res.Missing)

	m.UpdateContext(Patch{OriginSuburb: Ptr("Richmond")})
	res = m.CanTransitionTo(StageQuoteGenerated)
	assert.Equal(t, []Field{FieldDestinationSuburb, FieldQuoteAmount}, res.Missing)
}

func TestTransitionTo_RefusalLeavesContextUntouched(t *testing.T) {
	m, clk := newTestMachine(t)
	started := m.Snapshot().StageStartTime
	clk.Add(time.Minute)

	res := m.TransitionTo(StageQuoteGenerated, Patch{OriginSuburb: Ptr("Carlton")})
	assert.False(t, res.Allowed)

	snap := m.Snapshot()
	assert.Equal(t, StageGreeting, snap.Stage)
	assert.Empty(t, snap.OriginSuburb)
	assert.Equal(t, started, snap.StageStartTime)
}

func TestTransitionTo_PatchCanSupplyRequiredFields(t *testing.T) {
	m, clk := newTestMachine(t)
	require.True(t, m.TransitionTo(StageBusinessLookup, Patch{}).Allowed)
	clk.Add(30 * time.Second)

	res := m.TransitionTo(StageBusinessConfirm, Patch{BusinessName: Ptr("Acme Pty Ltd")})
	require.True(t, res.Allowed)

	snap := m.Snapshot()
	assert.Equal(t, StageBusinessConfirm, snap.Stage)
	assert.Equal(t, "Acme Pty Ltd", snap.BusinessName)
	assert.Equal(t, clk.Now(), snap.StageStartTime)
}

func TestUpdateContext_KeepsStageStartTime(t *testing.T) {
	m, clk := newTestMachine(t)
	started := m.Snapshot().StageStartTime
	clk.Add(time.Minute)

	m.UpdateContext(Patch{BusinessName: Ptr("Acme")})

	snap := m.Snapshot()
	assert.Equal(t, "Acme", snap.BusinessName)
	assert.Equal(t, started, snap.StageStartTime)
}

func TestRecordError_EscalatesAtThreshold(t *testing.T) {
	m, _ := newTestMachine(t)
	require.True(t, m.TransitionTo(StageServiceSelect, Patch{}).Allowed)

	assert.Equal(t, ErrorRecord{Count: 1}, m.RecordError())
	assert.Equal(t, ErrorRecord{Count: 2}, m.RecordError())
	assert.Equal(t, StageServiceSelect, m.Stage())

	rec := m.RecordError()
	assert.True(t, rec.Escalated)
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, StageHumanEscalation, m.Stage())
}

func TestRecordError_CustomThreshold(t *testing.T) {
	m := NewMachine(nil, WithClock(clock.NewMock()), WithEscalationThreshold(1))
	assert.True(t, m.RecordError().Escalated)
	assert.Equal(t, StageHumanEscalation, m.Stage())
}

func TestTransitionHook_SeesEveryStageChange(t *testing.T) {
	var seen []Stage
	m := NewMachine(NewContext("conv-1", "", time.Now()), WithTransitionHook(func(_, to Stage) { seen = append(seen, to) }))

	require.True(t, m.TransitionTo(StageBusinessLookup, Patch{}).Allowed)
	require.True(t, m.TransitionTo(StageErrorRecovery, Patch{}).Allowed)
	require.True(t, m.ResumePrevious().Allowed)
	m.Retreat()
	m.RecordError()
	m.RecordError()
	m.RecordError()
	assert.False(t, m.TransitionTo(StageQuoteGenerated, Patch{}).Allowed)

	assert.Equal(t, []Stage{
		StageBusinessLookup, StageErrorRecovery, StageBusinessLookup, StageGreeting, StageHumanEscalation,
	}, seen)
}

func TestResetErrors(t *testing.T) {
	m, _ := newTestMachine(t)
	m.RecordError()
	m.RecordError()
	m.ResetErrors()
	assert.Equal(t, 0, m.ErrorCount())
	assert.False(t, m.RecordError().Escalated)
}

func TestErrorRecovery_ResumesPreviousStage(t *testing.T) {
	m, _ := newTestMachine(t)
	require.True(t, m.TransitionTo(StageServiceSelect, Patch{}).Allowed)
	require.True(t, m.TransitionTo(StageErrorRecovery, Patch{}).Allowed)
	assert.Equal(t, StageServiceSelect, m.Snapshot().PreviousStage)

	res := m.ResumePrevious()
	require.True(t, res.Allowed)
	assert.Equal(t, StageServiceSelect, m.Stage())
	assert.Empty(t, m.Snapshot().PreviousStage)
}

func TestRetreat(t *testing.T) {
	m, _ := newTestMachine(t)
	require.True(t, m.TransitionTo(StageBusinessLookup, Patch{}).Allowed)
	require.True(t, m.TransitionTo(StageBusinessConfirm, Patch{BusinessName: Ptr("Acme")}).Allowed)

	res := m.Retreat()
	assert.Equal(t, StageBusinessLookup, res.To)
	assert.Equal(t, StageBusinessLookup, m.Stage())

	// the fsm follows the retreat
	assert.True(t, m.CanTransitionTo(StageBusinessConfirm).Allowed)
}

func TestCheckReengagement(t *testing.T) {
	tests := []struct {
		name    string
		stage   Stage
		idle    time.Duration
		needed  bool
		urgency Urgency
	}{
		{"fresh greeting", StageGreeting, 30 * time.Second, false, ""},
		{"greeting just over", StageGreeting, 3 * time.Minute, true, UrgencyLow},
		{"greeting double", StageGreeting, 5 * time.Minute, true, UrgencyMedium},
		{"greeting triple", StageGreeting, 7 * time.Minute, true, UrgencyHigh},
		{"quote review", StageQuoteGenerated, 6 * time.Minute, true, UrgencyHigh},
		{"payment idle", StagePayment, 11 * time.Minute, true, UrgencyCritical},
		{"payment within window", StagePayment, 9 * time.Minute, false, ""},
		{"complete never idles", StageComplete, time.Hour, false, ""},
		{"escalated never idles", StageHumanEscalation, time.Hour, false, ""},
	}
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext("c", "", now.Add(-tt.idle))
			c.Stage = tt.stage
			r := checkReengagement(c, now)
			assert.Equal(t, tt.needed, r.Needed)
			assert.Equal(t, tt.urgency, r.Urgency)
			if tt.needed {
				assert.NotEmpty(t, r.Prompt)
			}
		})
	}
}

func TestAddInventoryItem_MergesAndEstimates(t *testing.T) {
	m, _ := newTestMachine(t)
	m.AddInventoryItem(InventoryItem{Category: "furniture", ItemType: "desk", Quantity: 4})
	m.AddInventoryItem(InventoryItem{Category: "Furniture", ItemType: "Desk", Quantity: 2})
	m.AddInventoryItem(InventoryItem{Category: "it", ItemType: "server_rack", Quantity: 1})
	m.AddInventoryItem(InventoryItem{Category: "misc", ItemType: "mystery", Quantity: 3})
	m.AddInventoryItem(InventoryItem{Category: "misc", ItemType: "box", Quantity: 0})

	snap := m.Snapshot()
	require.Len(t, snap.InventoryItems, 3)
	assert.Equal(t, 6, snap.InventoryItems[0].Quantity)
	assert.InDelta(t, 6*1.5+2.0+3*1.0, snap.EstimatedSize, 1e-9)
}

func TestUnansweredQuestions(t *testing.T) {
	m, _ := newTestMachine(t)
	m.UpdateContext(Patch{ServiceType: Ptr(ServiceRetail), QualifyingAnswers: map[int]string{0: "120"}})

	qs := m.UnansweredQuestions()
	require.Len(t, qs, 2)
	assert.Equal(t, 1, qs[0].Index)
	assert.Equal(t, 2, qs[1].Index)
}

func TestNewMachine_RestoresStage(t *testing.T) {
	c := NewContext("c", "", time.Now())
	c.Stage = StageDateSelect
	c.QuoteAmount = Ptr(4200.0)
	m := NewMachine(c, WithClock(clock.NewMock()))

	assert.Equal(t, StageDateSelect, m.Stage())
	assert.False(t, m.CanTransitionTo(StageContactCollect).Allowed)
	m.UpdateContext(Patch{SelectedDate: Ptr("2025-04-01")})
	assert.True(t, m.CanTransitionTo(StageContactCollect).Allowed)
}

func TestEndToEndQuoteFlow(t *testing.T) {
	m, clk := newTestMachine(t)

	step := func(target Stage, p Patch) {
		t.Helper()
		clk.Add(20 * time.Second)
		m.Touch()
		res := m.TransitionTo(target, p)
		require.True(t, res.Allowed, "transition to %s refused: %s", target, res.Reason)
		assert.False(t, m.CheckReengagement().Needed, "idle after %s", target)
	}

	step(StageBusinessLookup, Patch{})
	step(StageBusinessConfirm, Patch{BusinessName: Ptr("Acme Logistics"), BusinessABN: Ptr("51824753556")})
	step(StageServiceSelect, Patch{})
	step(StageQualifyingQuestions, Patch{ServiceType: Ptr(ServiceOffice)})
	step(StageLocationOrigin, Patch{SquareMeters: Ptr(350.0), QualifyingAnswers: map[int]string{SizeQuestion: "350"}})
	step(StageLocationDestination, Patch{OriginSuburb: Ptr("Richmond")})
	step(StageQuoteGenerated, Patch{DestinationSuburb: Ptr("Docklands"), QuoteAmount: Ptr(8450.0)})
	step(StageDateSelect, Patch{})
	step(StageContactCollect, Patch{SelectedDate: Ptr("2025-04-12")})
	step(StagePayment, Patch{
		ContactName:   Ptr("Jo Citizen"),
		ContactEmail:  Ptr("jo@acme.example"),
		ContactPhone:  Ptr("0400000000"),
		DepositAmount: Ptr(845.0),
	})
	step(StageComplete, Patch{DepositPaid: Ptr(true)})

	snap := m.Snapshot()
	assert.Equal(t, StageComplete, snap.Stage)
	require.NotNil(t, snap.QuoteAmount)
	assert.Equal(t, 8450.0, *snap.QuoteAmount)
	assert.True(t, snap.DepositPaid)
}

func TestPath(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     []Stage
	}{
		{StageGreeting, StageGreeting, []Stage{}},
		{StageGreeting, StageBusinessConfirm, []Stage{StageBusinessLookup, StageBusinessConfirm}},
		{StageGreeting, StageQualifyingQuestions, []Stage{StageServiceSelect, StageQualifyingQuestions}},
		{StageLocationOrigin, StageQuoteGenerated, []Stage{StageQuoteGenerated}},
		{StageQuoteGenerated, StageContactCollect, []Stage{StageDateSelect, StageContactCollect}},
		{StageComplete, StagePayment, nil},
		{StageGreeting, StageHumanEscalation, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, Path(tt.from, tt.to))
		})
	}
}
