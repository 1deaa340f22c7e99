package failure

import "testing"

func TestKindTaxonomy(t *testing.T) {
	wantRetryable := map[Kind]bool{
		Timeout:          true,
		ConnectionFailed: true,
		AuthFailed:       false,
		CircuitOpen:      true,
		CommandError:     false,
		PermissionDenied: false,
		Cancelled:        false,
	}
	if len(Kinds()) != len(wantRetryable) {
		t.Fatalf("taxonomy drifted: %d kinds", len(Kinds()))
	}
	for _, k := range Kinds() {
		if !k.Valid() {
			t.Fatalf("%s should be valid", k)
		}
		if k.Retryable() != wantRetryable[k] {
			t.Fatalf("%s retryable = %v", k, k.Retryable())
		}
		if k.Hint() == "" {
			t.Fatalf("%s has no remediation hint", k)
		}
	}
}

func TestUnknownKind(t *testing.T) {
	k := Kind("disk_full")
	if k.Valid() {
		t.Fatalf("unknown kind reported valid")
	}
	if k.Retryable() {
		t.Fatalf("unknown kind must default to non-retryable")
	}
}
