package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/call"
	"github.com/justinchat/justinchat/internal/domain"
	"github.com/justinchat/justinchat/internal/invite"
)

var callFlags struct {
	server       string
	session      string
	token        string
	room         string
	targetID     string
	targetName   string
	inviteSecret string
	video        bool
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Run a headless call endpoint against a relay",
	Long: "Connects to the relay, verifies identity, acquires synthetic media and " +
		"runs the call handshake. A call starts either from an invitation token " +
		"or from a shared room.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd.Context())
	},
}

func init() {
	callCmd.Flags().StringVar(&callFlags.server, "server", "http://localhost:3000", "relay base URL")
	callCmd.Flags().StringVar(&callFlags.session, "jwt", "", "session JWT obtained from /api/auth/login")
	callCmd.Flags().StringVar(&callFlags.token, "token", "", "call-invitation token")
	callCmd.Flags().StringVar(&callFlags.room, "room", "", "shared calling room, used when no token is given")
	callCmd.Flags().StringVar(&callFlags.targetID, "target-id", "", "user id to call in shared-room mode")
	callCmd.Flags().StringVar(&callFlags.targetName, "target-name", "", "username to call in shared-room mode")
	callCmd.Flags().StringVar(&callFlags.inviteSecret, "invite-secret", os.Getenv("JWT_SECRET"), "invitation signing secret")
	callCmd.Flags().BoolVar(&callFlags.video, "video", false, "enable the camera track from the start")

	rootCmd.AddCommand(callCmd)
}

func runCall(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	wsURL := callWSURL(callFlags.server)

	iceServers, err := fetchICEServers(ctx, callFlags.server, callFlags.session)
	if err != nil {
		log.Warn("fetch ice servers, continuing without TURN", slog.Any(constant.Error, err))
	}

	var target *domain.Participant
	if callFlags.targetID != "" {
		target = &domain.Participant{ID: callFlags.targetID, Username: callFlags.targetName}
	}

	ch := call.NewChannel(wsURL, callFlags.session, log)
	defer ch.Close()

	engine := call.NewEngine(
		ch,
		invite.LocalResolver{Secret: []byte(callFlags.inviteSecret)},
		call.NewHTTPIdentity(callFlags.server, callFlags.session),
		call.NewSyntheticSource(),
		nil,
		call.Options{
			FixedRoom:     callFlags.room,
			Target:        target,
			ICEServers:    iceServers,
			OnRemoteTrack: logRemoteTrack(log),
		},
		log,
	)
	defer engine.Close()

	if err := engine.Start(ctx, callFlags.token); err != nil {
		return fmt.Errorf("start call: %w", err)
	}

	if callFlags.video {
		engine.SetVideo(true)
	}

	log.Info("call endpoint running", slog.String(constant.CallingID, engine.CallingID()))

	<-ctx.Done()

	engine.EndCall()
	return nil
}

func callWSURL(server string) string {
	ws := server
	switch {
	case strings.HasPrefix(server, "https://"):
		ws = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		ws = "ws://" + strings.TrimPrefix(server, "http://")
	}

	return strings.TrimSuffix(ws, "/") + "/api/v1/ws"
}

func fetchICEServers(ctx context.Context, server, session string) ([]webrtc.ICEServer, error) {
	url := strings.TrimSuffix(server, "/") + "/api/v1/ice"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: "jwt", Value: session})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var servers []webrtc.ICEServer
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, err
	}

	return servers, nil
}

// logRemoteTrack drains inbound RTP so the receiver keeps feeding us, and
// reports the first packet of each track.
func logRemoteTrack(log *slog.Logger) func(*webrtc.TrackRemote) {
	return func(track *webrtc.TrackRemote) {
		go func() {
			first := true
			for {
				pkt, _, err := track.ReadRTP()
				if err != nil {
					return
				}
				if first {
					first = false
					log.Info("receiving remote media",
						slog.String("kind", track.Kind().String()),
						slog.Uint64("ssrc", uint64(pkt.SSRC)),
					)
				}
			}
		}()
	}
}
