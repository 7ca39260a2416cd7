package model

import "testing"

func TestAppointmentStatus_CanTransitionTo(t *testing.T) {
	statuses := []AppointmentStatus{StatusPending, StatusAccepted, StatusDeclined}

	allowed := map[[2]AppointmentStatus]bool{
		{StatusPending, StatusAccepted}: true,
		{StatusPending, StatusDeclined}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]AppointmentStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestAppointmentStatus_IsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() {
		t.Error("pending must not be terminal")
	}
	if !StatusAccepted.IsTerminal() || !StatusDeclined.IsTerminal() {
		t.Error("accepted and declined must be terminal")
	}
}

func TestRole_Counterpart(t *testing.T) {
	if RoleFarmer.Counterpart() != RoleExpert {
		t.Errorf("farmer counterpart = %q", RoleFarmer.Counterpart())
	}
	if RoleExpert.Counterpart() != RoleFarmer {
		t.Errorf("expert counterpart = %q", RoleExpert.Counterpart())
	}
	if Role("admin").Counterpart() != "" {
		t.Error("unknown role should have no counterpart")
	}
	if Role("admin").Valid() {
		t.Error("admin is not a call role")
	}
}

func TestAppointment_PartyFor(t *testing.T) {
	a := &Appointment{FarmerID: "f", ExpertID: "e"}
	if a.PartyFor(RoleFarmer) != "f" || a.PartyFor(RoleExpert) != "e" {
		t.Errorf("PartyFor returned wrong ids")
	}
	if a.PartyFor("admin") != "" {
		t.Errorf("PartyFor(admin) should be empty")
	}
}
