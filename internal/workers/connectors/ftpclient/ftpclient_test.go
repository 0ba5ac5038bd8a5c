package ftpclient

import "testing"

func TestPasvPatternParsesResponse(t *testing.T) {
	m := pasvPattern.FindStringSubmatch("227 Entering Passive Mode (127,0,0,1,200,10).")
	if len(m) != 7 {
		t.Fatalf("expected 7 submatches, got %d: %v", len(m), m)
	}
	if m[1] != "127" || m[5] != "200" || m[6] != "10" {
		t.Fatalf("unexpected capture groups: %v", m)
	}
}
