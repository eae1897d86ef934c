package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/validation"
)

func TestWalletOnboardingIsValid(t *testing.T) {
	res := validation.Validate(WalletOnboarding())
	if !res.Valid {
		t.Fatalf("fixture should be valid, got %v", res.Errors)
	}
}

func TestRecordingAdapterReusesReplacedID(t *testing.T) {
	a := NewRecordingAdapter("test", ButtonCapabilities())
	target := Target("test", "u1")
	first, err := a.Render(context.Background(), target, &models.Info{}, messaging.RenderContext{})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := a.Render(context.Background(), target, &models.Info{}, messaging.RenderContext{ReplaceMessageID: first.MessageID})
	if second.MessageID != first.MessageID {
		t.Errorf("expected replaced id %s, got %s", first.MessageID, second.MessageID)
	}
	if a.RenderCount() != 2 {
		t.Errorf("expected 2 renders, got %d", a.RenderCount())
	}
}

func TestRecordingAdapterParseAction(t *testing.T) {
	a := NewRecordingAdapter("test", ButtonCapabilities())
	if a.ParseAction("garbage") != nil {
		t.Error("foreign events should parse to nil")
	}
	act := Press(Target("test", "u1"), "wf", "s1", models.ActionIDCancel)
	got := a.ParseAction(&act)
	if got == nil || got.Kind != models.ActionCancel {
		t.Fatalf("unexpected parse result %+v", got)
	}
}

func TestStubExecutor(t *testing.T) {
	x := NewStubExecutor().Succeed("ok", "done").Fail("bad", "nope")
	res, _ := x.Execute(context.Background(), "ok", nil)
	if !res.Success || res.ResultString() != "done" {
		t.Errorf("unexpected result %+v", res)
	}
	res, _ = x.Execute(context.Background(), "bad", nil)
	if res.Success || res.Error != "nope" {
		t.Errorf("unexpected result %+v", res)
	}
	res, _ = x.Execute(context.Background(), "missing", nil)
	if res.Success {
		t.Error("unknown tools should fail")
	}
	if x.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", x.CallCount())
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/x", map[string]string{"a": "b"})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
}
