package newsletter

import "testing"

func TestIsNewsletterAcceptsSubstackDigest(t *testing.T) {
	h := Headers{
		From:                "Weekly Digest <news@newsletter.example.substack.com>",
		Subject:             "Issue #42: this week in Go",
		ListID:              "<newsletter.example.substack.com>",
		ListUnsubscribe:     "<https://example.substack.com/redirect/unsub>, <mailto:unsub@example.substack.com>",
		ListUnsubscribePost: "List-Unsubscribe=One-Click",
	}
	if !IsNewsletter(h) {
		t.Fatalf("expected score %.2f to classify as newsletter", Score(h))
	}
}

func TestIsNewsletterRejectsBareTransactionalSender(t *testing.T) {
	h := Headers{
		From:    "no-reply@accounts.example.com",
		Subject: "Your password was reset",
	}
	if IsNewsletter(h) {
		t.Fatal("expected a bare transactional sender to be vetoed")
	}
}

func TestIsNewsletterRejectsReceiptEmail(t *testing.T) {
	h := Headers{
		From:    "billing@shop.example.com",
		Subject: "Your receipt for order #1029",
		ListID:  "<receipts.shop.example.com>",
	}
	if IsNewsletter(h) {
		t.Fatal("expected a receipt email to score below threshold")
	}
}

func TestIsNewsletterRequiresResolvableCanonicalKey(t *testing.T) {
	h := Headers{
		From:    "",
		Subject: "Weekly newsletter digest",
	}
	if IsNewsletter(h) {
		t.Fatal("expected no identity signal to make the message unclassifiable")
	}
}

func TestCanonicalKeyPriorityOrder(t *testing.T) {
	withListID := Headers{ListID: "<list.example.com>", ListUnsubscribe: "<https://example.com/unsub>", From: "a@example.com"}
	if got := CanonicalKey(withListID); got != "list-id:list.example.com" {
		t.Errorf("CanonicalKey = %q, want list-id priority", got)
	}

	withUnsubURL := Headers{ListUnsubscribe: "<https://example.com/unsub>", From: "a@example.com"}
	if got := CanonicalKey(withUnsubURL); got != "unsub-url:https://example.com/unsub" {
		t.Errorf("CanonicalKey = %q, want unsub-url priority", got)
	}

	withMailto := Headers{ListUnsubscribe: "<mailto:unsub@example.com>", From: "a@example.com"}
	if got := CanonicalKey(withMailto); got != "unsub-mailto:unsub@example.com" {
		t.Errorf("CanonicalKey = %q, want unsub-mailto priority", got)
	}

	senderOnly := Headers{From: "A@Example.com"}
	if got := CanonicalKey(senderOnly); got != "sender:a@example.com" {
		t.Errorf("CanonicalKey = %q, want lowercased sender fallback", got)
	}
}
