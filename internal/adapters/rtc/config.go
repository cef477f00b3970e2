// Package rtc hands clients the ICE servers they need to negotiate their own
// peer connections. No peer connection is ever opened server side.
package rtc

import (
	"github.com/dkeye/Parley/internal/config"
	"github.com/pion/webrtc/v4"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{defaultSTUN},
			},
		},
	}
}

// FromConfig builds the client configuration; servers without URLs are skipped.
func FromConfig(servers []config.ICEServer) webrtc.Configuration {
	out := webrtc.Configuration{ICEServers: make([]webrtc.ICEServer, 0, len(servers))}
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out.ICEServers = append(out.ICEServers, srv)
	}
	if len(out.ICEServers) == 0 {
		return DefaultWebRTCConfig()
	}
	return out
}

// ClientConfig is the JSON view of the ICE configuration.
type ClientConfig struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func NewClientConfig(cfg webrtc.Configuration) ClientConfig {
	return ClientConfig{ICEServers: cfg.ICEServers}
}
