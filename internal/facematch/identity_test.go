package facematch

import "testing"

func TestIdentity_Fields(t *testing.T) {
	tests := []struct {
		name       string
		identity   *Identity
		display    string
		age        string
		occupation string
	}{
		{"full", &Identity{Name: "Oscar", Age: 24, Occupation: "Engineer"}, "Oscar", "24", "Engineer"},
		{"missing metadata", &Identity{Name: "Oscar"}, "Oscar", "Unknown", "Unknown"},
		{"nil", nil, "Unknown", "Unknown", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.identity.DisplayName(); got != tt.display {
				t.Errorf("DisplayName() = %q, want %q", got, tt.display)
			}
			if got := tt.identity.AgeString(); got != tt.age {
				t.Errorf("AgeString() = %q, want %q", got, tt.age)
			}
			if got := tt.identity.OccupationString(); got != tt.occupation {
				t.Errorf("OccupationString() = %q, want %q", got, tt.occupation)
			}
		})
	}
}

func TestIdentity_Key(t *testing.T) {
	a := &Identity{Name: "Jan Novák"}
	b := &Identity{Name: "jan-novak", PersonID: 7}
	if a.Key() != b.Key() {
		t.Errorf("expected equal keys, got %q and %q", a.Key(), b.Key())
	}

	var nilID *Identity
	if nilID.Key() != "" {
		t.Error("nil identity should have empty key")
	}
}

func TestIdentity_KeyWithoutName(t *testing.T) {
	first := &Identity{PersonID: 1}
	second := &Identity{PersonID: 2, Name: "  "}
	if first.Key() == second.Key() {
		t.Errorf("nameless persons must not share a key, both got %q", first.Key())
	}
	if first.Key() != (&Identity{PersonID: 1}).Key() {
		t.Error("same person id should give the same key")
	}
	if first.Key() == (&Identity{Name: "1"}).Key() {
		t.Error("id fallback must not collide with a name")
	}
}
