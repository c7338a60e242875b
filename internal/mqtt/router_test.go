package mqtt

import "testing"

func TestTopicMatchesPlusWildcard(t *testing.T) {
	if !TopicMatches("site/+/sensor-1", "site/hall-a/sensor-1") {
		t.Fatal("expected + to match a single level")
	}
	if TopicMatches("site/+/sensor-1", "site/hall-a/hall-b/sensor-1") {
		t.Fatal("+ must not match multiple levels")
	}
}

func TestTopicMatchesHashWildcard(t *testing.T) {
	if !TopicMatches("site/#", "site/hall-a/sensor-1") {
		t.Fatal("expected # to match remaining levels")
	}
	if !TopicMatches("site/#", "site") {
		t.Fatal("expected # to match zero remaining levels")
	}
}

func TestTopicMatchesExactTopic(t *testing.T) {
	if !TopicMatches("site/hall-a/sensor-1", "site/hall-a/sensor-1") {
		t.Fatal("expected identical topics to match")
	}
	if TopicMatches("site/hall-a/sensor-1", "site/hall-b/sensor-1") {
		t.Fatal("expected mismatched levels to not match")
	}
}

func TestRouterFirstMatchWins(t *testing.T) {
	r := NewRouter()
	var calledSpecific, calledWildcard bool
	r.Register("site/+/sensor-1", func(string, []byte) { calledWildcard = true })
	r.Register("site/hall-a/sensor-1", func(string, []byte) { calledSpecific = true })

	r.Dispatch("site/hall-a/sensor-1", nil)

	if !calledWildcard || calledSpecific {
		t.Fatalf("expected the first-registered matching filter to win: wildcard=%v specific=%v", calledWildcard, calledSpecific)
	}
}

func TestRouterRemove(t *testing.T) {
	r := NewRouter()
	called := false
	r.Register("a/b", func(string, []byte) { called = true })
	r.Remove("a/b")

	if r.Dispatch("a/b", nil) {
		t.Fatal("expected no match after Remove")
	}
	if called {
		t.Fatal("handler should not have been invoked")
	}
}

func TestRouterDispatchNoMatch(t *testing.T) {
	r := NewRouter()
	r.Register("a/b", func(string, []byte) {})
	if r.Dispatch("c/d", nil) {
		t.Fatal("expected no match for unrelated topic")
	}
}
