package realtime

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"agriconnect/pkg/model"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Event
		wantErr error
	}{
		{
			name:  "join call",
			frame: `{"type":"join_call","data":{"appointmentId":"a1","role":"farmer"}}`,
			want:  JoinCall{AppointmentID: "a1", Role: model.RoleFarmer},
		},
		{
			name:  "disconnect call",
			frame: `{"type":"disconnect_call","data":{"appointmentId":"a1","role":"expert"}}`,
			want:  DisconnectCall{AppointmentID: "a1", Role: model.RoleExpert},
		},
		{
			name:    "join with unknown role",
			frame:   `{"type":"join_call","data":{"appointmentId":"a1","role":"admin"}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "offer without sdp",
			frame:   `{"type":"offer","data":{"appointmentId":"a1"}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "candidate null",
			frame:   `{"type":"ice_candidate","data":{"appointmentId":"a1","candidate":null}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "not json",
			frame:   `hello`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "missing type",
			frame:   `{"data":{}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "server-only type",
			frame:   `{"type":"appointment_accepted","data":{"appointmentId":"a1"}}`,
			wantErr: ErrUnknownType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecode_KeepsSDPVerbatimAndDropsClientFrom(t *testing.T) {
	sdp := `{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`
	frame := `{"type":"offer","data":{"appointmentId":"a1","sdp":` + sdp + `,"from":"expert"}}`

	ev, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	offer, ok := ev.(Offer)
	if !ok {
		t.Fatalf("event type = %T, want Offer", ev)
	}
	if string(offer.SDP) != sdp {
		t.Errorf("sdp = %s, want %s", offer.SDP, sdp)
	}
	if offer.From != "" {
		t.Errorf("client-supplied from must be ignored, got %q", offer.From)
	}
}

func TestEncode(t *testing.T) {
	frame, err := Encode(TypeAppointmentRequested, AppointmentRequested{AppointmentID: "a1", FarmerID: "f1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got struct {
		Type string `json:"type"`
		Data struct {
			AppointmentID string `json:"appointmentId"`
			FarmerID      string `json:"farmerId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypeAppointmentRequested || got.Data.AppointmentID != "a1" || got.Data.FarmerID != "f1" {
		t.Errorf("frame = %s", frame)
	}
}
