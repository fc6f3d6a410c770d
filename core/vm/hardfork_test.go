package vm

import "testing"

func TestHardforkOrdering(t *testing.T) {
	if !Cancun.AtLeast(Berlin) {
		t.Error("Cancun includes Berlin rules")
	}
	if Berlin.AtLeast(Shanghai) {
		t.Error("Berlin does not include Shanghai rules")
	}
}

func TestParseHardfork(t *testing.T) {
	for _, name := range []string{"Frontier", "Berlin", "Cancun"} {
		hf, err := ParseHardfork(name)
		if err != nil {
			t.Fatalf("ParseHardfork(%s): %v", name, err)
		}
		if hf.String() != name {
			t.Errorf("round trip %s -> %s", name, hf)
		}
	}
	if _, err := ParseHardfork("Dencun"); err == nil {
		t.Error("unknown fork accepted")
	}
}

func TestOpAvailability(t *testing.T) {
	cases := []struct {
		op   OpCode
		fork Hardfork
		want bool
	}{
		{PUSH0, Shanghai, true},
		{PUSH0, Merge, false},
		{MCOPY, Cancun, true},
		{MCOPY, Shanghai, false},
		{BASEFEE, London, true},
		{BASEFEE, Berlin, false},
		{DELEGATECALL, Frontier, false},
		{DELEGATECALL, Homestead, true},
		{ADD, Frontier, true},
	}
	for _, tc := range cases {
		if got := opAvailable(tc.op, tc.fork); got != tc.want {
			t.Errorf("opAvailable(%s, %s) = %t, want %t", tc.op, tc.fork, got, tc.want)
		}
	}
}
