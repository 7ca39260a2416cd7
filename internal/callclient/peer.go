package callclient

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"

	"agriconnect/pkg/logger"
)

// PionPeers builds peers on pion/webrtc. Candidates are trickled through
// the signaling channel as they are gathered.
type PionPeers struct {
	ICEServers []string
	Log        *logger.Logger
}

func (f *PionPeers) api() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	// Loopback candidates let two clients on one machine reach each other.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

func (f *PionPeers) NewPeer(media LocalMedia, events PeerEvents) (Peer, error) {
	api, err := f.api()
	if err != nil {
		return nil, err
	}

	config := webrtc.Configuration{}
	if len(f.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: f.ICEServers}}
	}
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if audio, ok := media.(*SilentAudio); ok {
		sender, err := pc.AddTrack(audio.Track())
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add audio track: %w", err)
		}
		go drainRTCP(sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	}

	log := f.Log
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || events.OnCandidate == nil {
			return
		}
		raw, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			log.Warn("failed to encode local candidate", "error", err)
			return
		}
		events.OnCandidate(raw)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", "state", state.String())
		if events.OnState == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			events.OnState(PeerConnected)
		case webrtc.PeerConnectionStateFailed:
			events.OnState(PeerFailed)
		case webrtc.PeerConnectionStateClosed:
			events.OnState(PeerClosed)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("remote track started", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})

	return &pionPeer{pc: pc}, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer() (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (p *pionPeer) CreateAnswer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (p *pionPeer) SetAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return p.pc.SetRemoteDescription(answer)
}

func (p *pionPeer) AddCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) LocalDescription() json.RawMessage {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return nil
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil
	}
	return raw
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
