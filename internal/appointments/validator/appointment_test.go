package validator

import (
	"errors"
	"testing"

	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
)

func TestValidateAppointment(t *testing.T) {
	v := NewAppointmentValidator(logger.Discard())

	const (
		farmerID = "64b7f0c2a1b2c3d4e5f60718"
		expertID = "64b7f0c2a1b2c3d4e5f60719"
	)

	tests := []struct {
		name      string
		apt       model.Appointment
		wantField string
	}{
		{
			name: "valid",
			apt:  model.Appointment{FarmerID: farmerID, ExpertID: expertID, Status: model.StatusPending},
		},
		{
			name:      "missing expert",
			apt:       model.Appointment{FarmerID: farmerID, Status: model.StatusPending},
			wantField: "expertId",
		},
		{
			name:      "self booking",
			apt:       model.Appointment{FarmerID: farmerID, ExpertID: farmerID, Status: model.StatusPending},
			wantField: "farmerId",
		},
		{
			name:      "malformed id",
			apt:       model.Appointment{FarmerID: "abc", ExpertID: expertID, Status: model.StatusPending},
			wantField: "farmerId",
		},
		{
			name:      "unknown status",
			apt:       model.Appointment{FarmerID: farmerID, ExpertID: expertID, Status: "cancelled"},
			wantField: "status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAppointment(&tt.apt)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error = %v, want ValidationErrors", err)
			}
			if _, ok := verrs.Details()[tt.wantField]; !ok {
				t.Errorf("details = %v, want field %q", verrs.Details(), tt.wantField)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	v := NewAppointmentValidator(logger.Discard())

	if err := v.ValidateRequest(&model.AppointmentRequest{ExpertID: "64b7f0c2a1b2c3d4e5f60719"}); err != nil {
		t.Errorf("valid request: %v", err)
	}
	if err := v.ValidateRequest(&model.AppointmentRequest{}); err == nil {
		t.Errorf("empty request passed validation")
	}
}
