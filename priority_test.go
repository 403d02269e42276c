package cogen

import "testing"

func TestPriorityBits(t *testing.T) {
	if PrioNone.hasOP() || PrioNone.hasCORO() {
		t.Fatalf("PrioNone must not set either bit")
	}
	if !PrioOP.hasOP() || PrioOP.hasCORO() {
		t.Fatalf("PrioOP must set only the OP bit")
	}
	if !PrioCORO.hasCORO() || PrioCORO.hasOP() {
		t.Fatalf("PrioCORO must set only the CORO bit")
	}
	both := PrioOP | PrioCORO
	if !both.hasOP() || !both.hasCORO() {
		t.Fatalf("combined priority must report both bits set")
	}
}
