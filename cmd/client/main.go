package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/SmilePineapple/mind-express-video/cmd/config"
	"github.com/SmilePineapple/mind-express-video/internal/media"
	"github.com/SmilePineapple/mind-express-video/internal/mesh"
	"github.com/SmilePineapple/mind-express-video/pkg/signalling"
)

// Headless mesh participant: joins a room on the signalling server,
// negotiates a session with every other occupant and sends a generated
// test tone. Useful for exercising a deployment without a browser.
func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	roomCodeFlag := flag.String("roomCode", "", "Room code to join (overrides config).")
	nicknameFlag := flag.String("nickname", "", "Display nickname (overrides config).")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	if *roomCodeFlag != "" {
		viper.Set("roomcode", *roomCodeFlag)
	}
	if *nicknameFlag != "" {
		viper.Set("nickname", *nicknameFlag)
	}

	roomCode := signalling.NormalizeRoomCode(viper.GetString("roomcode"))
	if !signalling.ValidRoomCode(roomCode) {
		slog.Error("a valid room code is required (two letters followed by five digits, e.g. ME12345)", "roomCode", roomCode)
		os.Exit(1)
	}

	// --------------------------------------------------------------------------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := signalling.Dial(ctx, viper.GetString("serverurl"), nil)
	if err != nil {
		os.Exit(1)
	}

	source, err := media.NewLocalSource(nil)
	if err != nil {
		slog.Error("error creating local media source", "err", err)
		os.Exit(1)
	}
	source.Start()

	factory := media.NewSessionFactory(
		media.ICEConfiguration(viper.GetStringSlice("iceservers")),
		source,
		nil,
	)
	orchestrator := mesh.NewOrchestrator(client, factory, source, nil)

	// --------------------------------------------------------------------------------

	if err := client.Join(roomCode, viper.GetString("nickname")); err != nil {
		slog.Error("error sending join", "err", err)
		os.Exit(1)
	}

	err = client.Listen(ctx, func(env *signalling.Envelope) {
		switch env.Type {
		case signalling.TypeJoinedRoom:
			orchestrator.HandleJoined(env.RoomCode, env.RoomSize)
		case signalling.TypeExistingUsers:
			orchestrator.HandleExistingUsers(env.Occupants)
		case signalling.TypeUserJoined:
			orchestrator.HandleUserJoined(env.Sender, env.Nickname)
		case signalling.TypeOffer:
			if env.SDP != nil {
				orchestrator.HandleOffer(env.Sender, *env.SDP)
			}
		case signalling.TypeAnswer:
			if env.SDP != nil {
				orchestrator.HandleAnswer(env.Sender, *env.SDP)
			}
		case signalling.TypeICECandidate:
			if env.Candidate != nil {
				orchestrator.HandleCandidate(env.Sender, *env.Candidate)
			}
		case signalling.TypeUserLeft:
			orchestrator.HandleUserLeft(env.Sender)
		case signalling.TypeError:
			slog.Error("server rejected request", "message", env.Message)
		}
	})
	if err != nil {
		slog.Error("signalling connection lost", "err", err)
	}

	orchestrator.EndCall()
	client.Close()
}
