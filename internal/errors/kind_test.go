package errors

import "testing"

func TestKindClassification(t *testing.T) {
	if !Is(Config("bad config"), KindConfig) {
		t.Fatalf("expected KindConfig")
	}
	if !Fatal(Config("bad config")) {
		t.Fatalf("expected Config to be fatal")
	}
	if !Fatal(Invariant("unbalanced")) {
		t.Fatalf("expected Invariant to be fatal")
	}
	if Fatal(Transport(New("timeout"), "submit failed")) {
		t.Fatalf("transport errors must not be fatal")
	}
}

func TestVenueLogicalRoundTrip(t *testing.T) {
	err := VenueLogical(VenueLogicalOrderUnknown, "cancel failed")
	kind, ok := AsVenueLogical(err)
	if !ok || kind != VenueLogicalOrderUnknown {
		t.Fatalf("expected VenueLogicalOrderUnknown, got %v ok=%v", kind, ok)
	}
}

func TestCancelledNeverFatal(t *testing.T) {
	if Fatal(Cancelled()) {
		t.Fatalf("cancellation must never be fatal")
	}
}
