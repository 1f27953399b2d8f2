package continuity

import (
	"context"
	"testing"
	"time"

	"github.com/Enntity/cortex-sub003/pkg/memory"
)

func newTestService(hot *fakeHot, cold *fakeCold, synth Synthesizer) *Service {
	builder := NewContextBuilder(hot, cold, nil)
	return NewService(hot, cold, builder, synth)
}

func TestRecordTurnAppendsAndUpdatesExpression(t *testing.T) {
	hot := newFakeHot()
	svc := newTestService(hot, &fakeCold{}, nil)
	defer svc.Close()
	ctx := context.Background()

	turn := memory.Turn{Role: memory.RoleUser, Content: "Hi, I'm Ana.", EmotionalTone: "warm"}
	if err := svc.RecordTurn(ctx, "e1", "u1", turn); err != nil {
		t.Fatalf("RecordTurn() error: %v", err)
	}

	turns, _ := hot.LastTurns(ctx, "e1", "u1", 10)
	if len(turns) != 1 || turns[0].Content != "Hi, I'm Ana." {
		t.Fatalf("turn not appended: %v", turns)
	}
	if turns[0].Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}

	es, _ := hot.GetExpressionState(ctx, "e1", "u1")
	if es == nil {
		t.Fatal("expression state not created")
	}
	if es.LastInteractionTone != "warm" {
		t.Errorf("tone not recorded: %q", es.LastInteractionTone)
	}
	if es.LastInteractionTimestamp.IsZero() {
		t.Error("last interaction not recorded")
	}
	if es.SessionStartTimestamp.IsZero() {
		t.Error("first turn should start a session")
	}
}

func TestRecordTurnIdleGapStartsNewSession(t *testing.T) {
	hot := newFakeHot()
	svc := newTestService(hot, &fakeCold{}, nil)
	defer svc.Close()
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	svc.now = fixedClock(base)

	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "morning"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if hot.sessionClears != 0 {
		t.Fatalf("continuous turns must not reset the session: %d clears", hot.sessionClears)
	}

	// 5 hours later: idle threshold exceeded.
	svc.now = fixedClock(base.Add(5 * time.Hour))
	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "back again"}); err != nil {
		t.Fatal(err)
	}

	if hot.sessionClears != 1 {
		t.Errorf("idle gap should clear the session once, got %d", hot.sessionClears)
	}
	turns, _ := hot.LastTurns(ctx, "e1", "u1", 10)
	if len(turns) != 1 {
		t.Errorf("episodic stream should restart with the new turn, got %d", len(turns))
	}
	es, _ := hot.GetExpressionState(ctx, "e1", "u1")
	if !es.SessionStartTimestamp.Equal(base.Add(5 * time.Hour)) {
		t.Errorf("session start not reset: %v", es.SessionStartTimestamp)
	}
}

func TestInitSessionForce(t *testing.T) {
	hot := newFakeHot()
	svc := newTestService(hot, &fakeCold{}, nil)
	defer svc.Close()
	ctx := context.Background()

	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	started, err := svc.InitSession(ctx, "e1", "u1", false)
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Error("active session should not restart without force")
	}

	started, err = svc.InitSession(ctx, "e1", "u1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Error("force should always start a session")
	}
	turns, _ := hot.LastTurns(ctx, "e1", "u1", 10)
	if len(turns) != 0 {
		t.Errorf("forced session start should clear the stream, got %d turns", len(turns))
	}
}

func TestExpressionStatePersistsAcrossSessionReset(t *testing.T) {
	hot := newFakeHot()
	svc := newTestService(hot, &fakeCold{}, nil)
	defer svc.Close()
	ctx := context.Background()

	personality := "steady and wry"
	hot.UpdateExpressionState(ctx, "e1", "u1", memory.ExpressionUpdate{BasePersonality: &personality})
	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.InitSession(ctx, "e1", "u1", true); err != nil {
		t.Fatal(err)
	}

	es, _ := hot.GetExpressionState(ctx, "e1", "u1")
	if es == nil || es.BasePersonality != "steady and wry" {
		t.Errorf("base personality lost on session reset: %+v", es)
	}
}

func TestTriggerSynthesisInvalidatesOnWrite(t *testing.T) {
	hot := newFakeHot()
	synth := &fakeSynth{written: 2, started: make(chan struct{}, 1)}
	svc := newTestService(hot, &fakeCold{}, synth)
	defer svc.Close()
	ctx := context.Background()

	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	hot.SetActiveContext(ctx, "e1", "u1", memory.ActiveContext{NarrativeContext: "stale"})

	if !svc.TriggerSynthesis("e1", "u1") {
		t.Fatal("trigger rejected")
	}
	<-synth.started

	deadline := time.After(2 * time.Second)
	for {
		ac, _ := hot.GetActiveContext(ctx, "e1", "u1")
		if ac == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("active context never invalidated after synthesis write")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTriggerSynthesisDropsReentrant(t *testing.T) {
	hot := newFakeHot()
	synth := &fakeSynth{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	svc := newTestService(hot, &fakeCold{}, synth)
	defer svc.Close()
	ctx := context.Background()

	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	if !svc.TriggerSynthesis("e1", "u1") {
		t.Fatal("first trigger rejected")
	}
	<-synth.started

	if svc.TriggerSynthesis("e1", "u1") {
		t.Error("second trigger for an in-flight pair must drop")
	}
	close(synth.block)
}

func TestTriggerSynthesisWithoutSynthesizer(t *testing.T) {
	svc := newTestService(newFakeHot(), &fakeCold{}, nil)
	defer svc.Close()
	if svc.TriggerSynthesis("e1", "u1") {
		t.Error("no synthesizer configured, trigger must be a no-op")
	}
}

func TestAddMemoryDefaultsAndInvalidates(t *testing.T) {
	hot := newFakeHot()
	cold := &fakeCold{}
	svc := newTestService(hot, cold, nil)
	defer svc.Close()
	ctx := context.Background()

	hot.SetActiveContext(ctx, "e1", "u1", memory.ActiveContext{NarrativeContext: "stale"})

	node, err := svc.AddMemory(ctx, memory.Node{
		EntityID: "e1",
		UserID:   "u1",
		Type:     memory.TypeCore,
		Content:  "The user's name is Ana.",
	})
	if err != nil {
		t.Fatalf("AddMemory() error: %v", err)
	}
	if node.ID == "" || node.Timestamp.IsZero() || node.LastAccessed.IsZero() {
		t.Errorf("defaults not applied: %+v", node)
	}
	if node.Importance != 5 {
		t.Errorf("importance not defaulted: %d", node.Importance)
	}
	if len(cold.upserts) != 1 {
		t.Fatalf("node not upserted")
	}
	if ac, _ := hot.GetActiveContext(ctx, "e1", "u1"); ac != nil {
		t.Error("active context not invalidated after write")
	}
}

func TestForgetUser(t *testing.T) {
	hot := newFakeHot()
	cold := &fakeCold{}
	svc := newTestService(hot, cold, nil)
	defer svc.Close()
	ctx := context.Background()

	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.ForgetUser(ctx, "e1", "u1"); err != nil {
		t.Fatalf("ForgetUser() error: %v", err)
	}

	if len(cold.forgets) != 1 || cold.forgets[0] != "e1:u1" {
		t.Errorf("cascading forget not invoked: %v", cold.forgets)
	}
	turns, _ := hot.LastTurns(ctx, "e1", "u1", 10)
	if len(turns) != 0 {
		t.Error("episodic stream survived forget")
	}
}

func TestGetSessionInfo(t *testing.T) {
	hot := newFakeHot()
	cold := &fakeCold{hasMemories: true}
	svc := newTestService(hot, cold, nil)
	defer svc.Close()
	ctx := context.Background()

	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordTurn(ctx, "e1", "u1", memory.Turn{Role: memory.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	info, err := svc.GetSessionInfo(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetSessionInfo() error: %v", err)
	}
	if info.TurnCount != 2 {
		t.Errorf("turn count = %d", info.TurnCount)
	}
	if !info.HasMemories {
		t.Error("cold-tier flag not reported")
	}
	if info.SessionStart.IsZero() || info.LastInteraction.IsZero() {
		t.Errorf("timestamps missing: %+v", info)
	}
}

func TestDefaultSingleton(t *testing.T) {
	svc := newTestService(newFakeHot(), &fakeCold{}, nil)
	defer svc.Close()

	SetDefault(svc)
	if Default() != svc {
		t.Error("Default() did not return the installed service")
	}
	SetDefault(nil)
}
