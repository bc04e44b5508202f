package payload

import "testing"

func TestNewByTagRoundTrip(t *testing.T) {
	for _, tag := range []Tag{
		TagVerifySubmission,
		TagRecomputeLeaderboard,
		TagSyncToRegistry,
		TagExportToAnalytics,
		TagFinalizeProposal,
		TagCleanupExpiredData,
		TagSendNotification,
	} {
		p, err := New(tag)
		if err != nil {
			t.Fatalf("New(%s): %v", tag, err)
		}
		if p.Tag() != tag {
			t.Fatalf("New(%s).Tag() = %s", tag, p.Tag())
		}
	}
}

func TestNewUnknownTag(t *testing.T) {
	if _, err := New(Tag("nonexistent")); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}
