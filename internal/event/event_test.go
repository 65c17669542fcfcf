package event

import "testing"

func fptr(v float64) *float64 { return &v }

func TestUserRefName(t *testing.T) {
	if got := (UserRef{Username: "alice"}).Name(); got != "alice" {
		t.Fatalf("Name = %q", got)
	}
	if got := (UserRef{Username: "alice", DisplayName: "Alice"}).Name(); got != "Alice" {
		t.Fatalf("Name = %q, want display name preferred", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := &CanonicalEvent{Kind: KindCheer, Amount: fptr(100), User: UserRef{Username: "Bob"}, Origin: OriginLatest}
	b := &CanonicalEvent{Kind: KindCheer, Amount: fptr(100), User: UserRef{Username: "bob"}, Origin: OriginLatest}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("case-folded fingerprints differ: %q vs %q", a.Fingerprint(), b.Fingerprint())
	}

	c := &CanonicalEvent{Kind: KindCheer, Amount: fptr(200), User: UserRef{Username: "bob"}, Origin: OriginLatest}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("different amounts share a fingerprint")
	}

	d := &CanonicalEvent{Kind: KindTip, Amount: fptr(100), User: UserRef{Username: "bob"}, Origin: OriginLatest}
	if a.Fingerprint() == d.Fingerprint() {
		t.Fatal("different kinds share a fingerprint")
	}
}

func TestFingerprintAs(t *testing.T) {
	ev := &CanonicalEvent{Kind: KindTip, Amount: fptr(10), User: UserRef{Username: "bob"}, Origin: OriginLatest}
	twin := &CanonicalEvent{Kind: KindTip, Amount: fptr(10), User: UserRef{Username: "bob"}, Origin: OriginEvent}
	if ev.FingerprintAs(OriginEvent) != twin.Fingerprint() {
		t.Fatal("FingerprintAs does not match the twin's fingerprint")
	}
	if ev.Origin != OriginLatest {
		t.Fatal("FingerprintAs mutated the event")
	}
}

func TestFingerprintIncludesRedemption(t *testing.T) {
	a := &CanonicalEvent{Kind: KindPoints, User: UserRef{Username: "bob"}, Meta: map[string]any{"redemption": "tts"}}
	b := &CanonicalEvent{Kind: KindPoints, User: UserRef{Username: "bob"}, Meta: map[string]any{"redemption": "hydrate"}}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("different redemptions share a fingerprint")
	}
}

func TestAmountValue(t *testing.T) {
	var nilEv *CanonicalEvent
	if nilEv.AmountValue() != 0 {
		t.Fatal("nil event amount != 0")
	}
	if (&CanonicalEvent{}).AmountValue() != 0 {
		t.Fatal("unset amount != 0")
	}
	if (&CanonicalEvent{Amount: fptr(2.5)}).AmountValue() != 2.5 {
		t.Fatal("amount not returned")
	}
}
