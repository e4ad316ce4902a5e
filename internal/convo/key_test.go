package convo

import "testing"

func TestKeySymmetric(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"3", "9", "conv_3_9"},
		{"9", "3", "conv_3_9"},
		{"12", "7", "conv_7_12"},
		{"100", "99", "conv_99_100"},
		{"alice", "bob", "conv_alice_bob"},
		{"bob", "alice", "conv_alice_bob"},
		{"42", "42", "conv_42_42"},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			if got := Key(tt.a, tt.b); got != tt.want {
				t.Errorf("Key(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
			if Key(tt.a, tt.b) != Key(tt.b, tt.a) {
				t.Errorf("Key(%q, %q) != Key(%q, %q)", tt.a, tt.b, tt.b, tt.a)
			}
		})
	}
}

func TestKeyNumericNotLexicographic(t *testing.T) {
	// "12" < "7" lexicographically; numeric ids must order numerically.
	if got := Key("7", "12"); got != "conv_7_12" {
		t.Errorf("Key(7, 12) = %q, want conv_7_12", got)
	}
}

func TestPending(t *testing.T) {
	c := Pending("3", "9", "Priya", "https://cdn.example/a.png")
	if c.ID != "conv_3_9" {
		t.Errorf("ID = %q, want conv_3_9", c.ID)
	}
	if !c.Pending {
		t.Error("Pending = false, want true")
	}
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", c.UnreadCount)
	}
	if c.ParticipantName != "Priya" {
		t.Errorf("ParticipantName = %q", c.ParticipantName)
	}
}
