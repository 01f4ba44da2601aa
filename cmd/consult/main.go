// Command consult is a headless session participant: it joins a
// session through the relay, negotiates media with the other party and
// prints coordinator events. Useful for soak testing a relay without a
// browser client.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dialcare/consult/internal/adapters/rest"
	"github.com/dialcare/consult/internal/adapters/rtc"
	"github.com/dialcare/consult/internal/adapters/signal"
	"github.com/dialcare/consult/internal/app"
	"github.com/dialcare/consult/internal/config"
	"github.com/dialcare/consult/internal/domain"
)

func main() {
	var (
		server  = flag.String("server", "http://localhost:8080", "relay base URL")
		session = flag.String("session", "", "session id to join")
		role    = flag.String("role", "counterpart", "initiator or counterpart")
		name    = flag.String("name", "consult", "display name")
		start   = flag.Bool("start", false, "start the session after joining")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *session == "" {
		log.Fatal().Msg("-session is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	self, err := domain.NewParticipant(
		domain.ParticipantID(uuid.NewString()),
		domain.Role(*role),
		*name,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("bad participant")
	}

	wsURL, err := socketURL(*server, *session, self)
	if err != nil {
		log.Fatal().Err(err).Msg("bad server URL")
	}
	channel, err := signal.Dial(ctx, signal.Options{
		URL:               wsURL,
		ReadLimit:         cfg.ReadLimit,
		ReconnectMin:      cfg.ReconnectMin,
		ReconnectMax:      cfg.ReconnectMax,
		ReconnectAttempts: cfg.ReconnectAttempts,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("dial relay")
	}

	coord := app.NewCoordinator(app.Deps{
		Channel: channel,
		Media:   rtc.NewSampleSource(),
		Links:   rtc.NewFactory(cfg.ICEServers, log.Logger),
		Store:   rest.NewClient(*server),
	}, app.Timing{
		ConsentTTL:      cfg.ConsentTTL,
		HeartbeatPeriod: cfg.HeartbeatPeriod,
		HeartbeatWindow: cfg.HeartbeatWindow,
		AutoEndAfter:    cfg.AutoEndAfter,
	}, self, log.Logger)

	if err := coord.Join(ctx, domain.SessionID(*session)); err != nil {
		log.Fatal().Err(err).Msg("join session")
	}
	if *start {
		if err := coord.Start(ctx); err != nil {
			log.Error().Err(err).Msg("start session")
		}
	}

	go func() {
		for ev := range coord.Events() {
			evt := log.Info().Str("kind", string(ev.Kind))
			if ev.Err != nil {
				evt = evt.Err(ev.Err)
			}
			evt.Msg("event")
		}
	}()

	<-ctx.Done()
	if err := coord.End(context.Background()); err != nil {
		log.Error().Err(err).Msg("end session")
	}
	coord.Close()
	log.Info().Msg("bye")
}

func socketURL(server, session string, self *domain.Participant) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/api/v1/ws/%s/%s", session, self.ID)
	q := u.Query()
	q.Set("role", string(self.Role))
	q.Set("name", self.DisplayName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
