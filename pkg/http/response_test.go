package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "agriconnect/pkg/errors"

	"github.com/goccy/go-json"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "not found",
			err:        apperrors.NotFoundWithID("Appointment", "abc"),
			wantStatus: http.StatusNotFound,
			wantCode:   apperrors.CodeNotFound,
			wantMsg:    "Appointment not found",
		},
		{
			name:       "invalid transition",
			err:        apperrors.InvalidTransition("accepted", "declined"),
			wantStatus: http.StatusConflict,
			wantCode:   apperrors.CodeInvalidTransition,
			wantMsg:    "cannot move appointment from accepted to declined",
		},
		{
			name:       "forbidden",
			err:        apperrors.Forbidden("only the expert may respond"),
			wantStatus: http.StatusForbidden,
			wantCode:   apperrors.CodeForbidden,
			wantMsg:    "only the expert may respond",
		},
		{
			name:       "internal hides cause",
			err:        apperrors.Internal("Failed to persist", errors.New("mongo down")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperrors.CodeInternal,
			wantMsg:    "Internal server error",
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperrors.CodeInternal,
			wantMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if err := WriteError(rec, tt.err); err != nil {
				t.Fatalf("WriteError returned %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantMsg)
			}
		})
	}
}

func TestWriteMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	msg := MessageResponse{Message: "Appointment request sent to expert", AppointmentID: "665f1c2b9d1e8a0012345678"}

	if err := WriteMessage(rec, http.StatusCreated, msg); err != nil {
		t.Fatalf("WriteMessage returned %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if got["message"] != msg.Message || got["appointmentId"] != msg.AppointmentID {
		t.Errorf("unexpected body %v", got)
	}
}
