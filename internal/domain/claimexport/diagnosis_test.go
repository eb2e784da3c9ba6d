package claimexport

import "testing"

func TestResolveDiagnosis_Primary(t *testing.T) {
	tests := []struct {
		note string
		want string
	}{
		{"Diabetic ulcer on the left foot", "E11.621"},
		{"Patient with diabetes, ulcer at heel", "E11.621"},
		{"Diabetic ulcer of the lower leg", "E11.622"},
		{"Pressure injury over sacral area", "L89.159"},
		{"Pressure injury of the heel", "L89.619"},
		{"Coccyx pressure area", "L89.90"},
		{"Venous stasis ulcer, medial malleolus", "I83.019"},
		{"Post-surgical wound dehiscence", "T81.31XA"},
		{"Incision site slow to close", "T81.31XA"},
		{"Traumatic laceration of the shin", "S91.009A"},
		{"Chronic ulcer, unspecified site", DefaultPrimaryDiagnosis},
		{"", DefaultPrimaryDiagnosis},
	}
	for _, tt := range tests {
		t.Run(tt.note, func(t *testing.T) {
			got := ResolveDiagnosis("stable", tt.note)
			if got.Primary != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Primary)
			}
		})
	}
}

func TestResolveDiagnosis_CategoryPrecedence(t *testing.T) {
	tests := []struct {
		name string
		note string
		want string
	}{
		{"diabetic before pressure", "Diabetic patient, pressure ulcer on the heel", "E11.621"},
		{"pressure before venous", "Sacral pressure ulcer with venous insufficiency", "L89.159"},
		{"venous before surgical", "Venous ulcer near prior surgical site", "I83.019"},
		{"surgical before traumatic", "Surgical wound after traumatic fracture", "T81.31XA"},
		{"sacral before heel", "Pressure injuries at sacral region and heel", "L89.159"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveDiagnosis("stable", tt.note).Primary; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolveDiagnosis_CaseInsensitive(t *testing.T) {
	lower := ResolveDiagnosis("concern", "diabetic foot ulcer, infected")
	upper := ResolveDiagnosis("CONCERN", "DIABETIC FOOT ULCER, INFECTED")
	if lower.Primary != upper.Primary {
		t.Errorf("expected same primary, got %s and %s", lower.Primary, upper.Primary)
	}
	if (lower.Secondary == nil) != (upper.Secondary == nil) {
		t.Error("expected same secondary presence")
	}
}

func TestResolveDiagnosis_Secondary(t *testing.T) {
	tests := []struct {
		assessment string
		note       string
		want       bool
	}{
		{"concern", "Venous ulcer with signs of infection", true},
		{"urgent", "Purulent drainage from sacral wound", true},
		{" Urgent ", "pus noted at the incision", true},
		{"concern", "Venous ulcer, clean wound bed", false},
		{"stable", "Venous ulcer with signs of infection", false},
		{"improving", "Infected pressure injury", false},
		{"", "infected", false},
	}
	for _, tt := range tests {
		t.Run(tt.assessment+"/"+tt.note, func(t *testing.T) {
			got := ResolveDiagnosis(tt.assessment, tt.note)
			if tt.want {
				if got.Secondary == nil || *got.Secondary != InfectionDiagnosis {
					t.Errorf("expected secondary %s, got %v", InfectionDiagnosis, got.Secondary)
				}
			} else if got.Secondary != nil {
				t.Errorf("expected no secondary, got %s", *got.Secondary)
			}
		})
	}
}

func TestResolveDiagnosis_AlwaysHasPrimary(t *testing.T) {
	for _, note := range []string{"", " ", "???", "follow-up visit", "infection"} {
		for _, a := range []string{"", "concern", "stable", "urgent"} {
			if got := ResolveDiagnosis(a, note); got.Primary == "" {
				t.Errorf("empty primary for assessment %q note %q", a, note)
			}
		}
	}
}

func TestDiagnosisCategory(t *testing.T) {
	tests := map[string]string{
		"diabetic foot":      "diabetic",
		"sacral pressure":    "pressure",
		"venous leg ulcer":   "venous",
		"surgical wound":     "surgical",
		"trauma to the shin": "traumatic",
		"arterial ulcer":     "",
	}
	for note, want := range tests {
		if got := DiagnosisCategory(note); got != want {
			t.Errorf("DiagnosisCategory(%q) = %q, want %q", note, got, want)
		}
	}
}
