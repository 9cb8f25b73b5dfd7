package conversation

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/puri-adityakumar/mednotes-ai/internal/profiles"
)

func rosterWith(names ...[2]string) []profiles.Doctor {
	out := make([]profiles.Doctor, 0, len(names))
	for _, n := range names {
		out = append(out, profiles.Doctor{ID: uuid.New(), FirstName: n[0], LastName: n[1]})
	}
	return out
}

func TestMatchDoctorStrategies(t *testing.T) {
	doctors := rosterWith([2]string{"Shekhar", "Maurya"})
	want := doctors[0].ID

	inputs := []string{
		"Shekhar Maurya",        // exact
		"shekhar maurya",        // exact, case-insensitive
		"Dr. Shekhar Maurya",    // title stripped
		"Dr Shekhar",            // substring
		"shekhar",               // single token first name
		"Maurya",                // single token last name
		"maurya shekhar",        // reversed token order
		"dr. shekhar maurya ji", // first+last contained in input
	}
	for _, in := range inputs {
		got, err := MatchDoctor(in, doctors)
		if err != nil {
			t.Errorf("MatchDoctor(%q) error: %v", in, err)
			continue
		}
		if got.ID != want {
			t.Errorf("MatchDoctor(%q) matched wrong doctor", in)
		}
	}
}

func TestMatchDoctorNotFoundListsRoster(t *testing.T) {
	doctors := rosterWith([2]string{"Shekhar", "Maurya"}, [2]string{"Anita", "Rao"})

	_, err := MatchDoctor("Patel", doctors)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	var nf *DoctorNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected DoctorNotFoundError, got %T", err)
	}
	if len(nf.Known) != 2 {
		t.Fatalf("expected 2 known doctors, got %d", len(nf.Known))
	}
	if !strings.Contains(nf.Error(), "Dr. Shekhar Maurya") || !strings.Contains(nf.Error(), "Dr. Anita Rao") {
		t.Fatalf("expected roster in error, got %q", nf.Error())
	}
}

func TestMatchDoctorFirstHitWins(t *testing.T) {
	doctors := rosterWith([2]string{"Asha", "Sharma"}, [2]string{"Asha", "Verma"})

	got, err := MatchDoctor("asha", doctors)
	if err != nil {
		t.Fatalf("MatchDoctor: %v", err)
	}
	if got.ID != doctors[0].ID {
		t.Fatal("expected first doctor in iteration order to win")
	}
}

func TestMatchDoctorEmptyRoster(t *testing.T) {
	_, err := MatchDoctor("anyone", nil)
	var nf *DoctorNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected DoctorNotFoundError, got %v", err)
	}
	if !strings.Contains(nf.Error(), "none") {
		t.Fatalf("expected 'none' roster, got %q", nf.Error())
	}
}
