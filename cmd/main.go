package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/labstack/gommon/color"

	"github.com/vykintas/voice-keyboard/internal/audio"
	"github.com/vykintas/voice-keyboard/internal/keyboard"
	"github.com/vykintas/voice-keyboard/internal/service"
	"github.com/vykintas/voice-keyboard/internal/session"
	"github.com/vykintas/voice-keyboard/internal/store"
	"github.com/vykintas/voice-keyboard/internal/stt"
)

type sessionStore interface {
	session.TurnSaver
	session.AudioSaver
	service.TurnProvider
	service.AudioProvider
}

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	cfg.SetDefault("port", 8085)
	cfg.SetDefault("stt.url", "wss://api.deepgram.com/v2/listen")
	cfg.SetDefault("stt.sampleRate", 16000)
	cfg.SetDefault("stt.chunkMs", 80)

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	sampleRate := cfg.GetInt("stt.sampleRate")

	sttURL := stt.PickEndpoint(ctx, cfg.GetString("stt.localUrl"), cfg.GetString("stt.url"), time.Second)
	client, err := stt.NewClient(stt.Config{
		URL:          sttURL,
		Model:        cfg.GetString("stt.model"),
		SampleRate:   sampleRate,
		APIKey:       cfg.GetString("stt.key"),
		EOTThreshold: cfg.GetFloat64("stt.eotThreshold"),
		EOTTimeoutMS: cfg.GetInt("stt.eotTimeout"),
	})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init stt client")
	}

	var mgr sessionStore
	if redisURL := cfg.GetString("redis.url"); redisURL != "" {
		rMgr, err := store.NewRedisSessionManager(redisURL, cfg.GetString("encryption.key"), sampleRate)
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init redis store")
		}
		defer rMgr.Close()
		mgr = rMgr
	} else {
		mgr = store.NewMemorySessionManager(sampleRate)
	}

	hw, err := keyboard.NewConsole(os.Stdout)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init keyboard")
	}

	feed := service.NewFeed()
	runner, err := session.NewRunner(session.Params{
		Client:       client,
		Synchronizer: keyboard.NewSynchronizer(hw),
		Chunker:      audio.NewChunker(sampleRate, cfg.GetInt("stt.chunkMs")),
		Turns:        mgr,
		Audio:        mgr,
		Feed:         feed,
	})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init session")
	}
	if err := runner.Start(ctx); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start session")
	}

	data := &service.Data{}
	data.Ctx = ctx
	data.Port = cfg.GetInt("port")
	data.Turns = mgr
	data.Audio = mgr
	data.Feed = feed
	webDoneCh, err := service.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}

	// capture: raw PCM16LE mono on stdin, e.g.
	// arecord -f S16_LE -r 16000 -c 1 -t raw | voice-keyboard
	pcm, err := audio.NewPCMReader(os.Stdin)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init audio input")
	}
	capCtx, capCancel := context.WithCancel(ctx)
	defer capCancel()
	go func() {
		if err := pcm.Run(capCtx, runner.OnSamples); err != nil && !errors.Is(err, context.Canceled) {
			goapp.Log.Error().Err(err).Msg("audio input failed")
		}
		runner.CloseAudio()
	}()

	sessionDoneCh := make(chan error, 1)
	go func() {
		sessionDoneCh <- runner.Wait(ctx)
	}()

	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
		capCancel()
	case err := <-sessionDoneCh:
		sessionDoneCh = nil
		if err != nil {
			goapp.Log.Error().Err(err).Msg("session failed")
		} else {
			goapp.Log.Info().Msg("Session finished")
		}
	case <-webDoneCh:
		goapp.Log.Info().Msg("Service exit")
		capCancel()
	}
	if sessionDoneCh != nil {
		select {
		case err := <-sessionDoneCh:
			if err != nil {
				goapp.Log.Error().Err(err).Msg("session failed")
			}
			goapp.Log.Info().Msg("All code returned. Now exit. Bye")
		case <-time.After(time.Second * 15):
			goapp.Log.Warn().Msg("Timeout gracefull shutdown")
		}
	}
	cancelFunc()
}

var (
	version = "DEV"
)

func printBanner() {
	banner :=
		`
    VOICE KEYBOARD v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/vykintas/voice-keyboard"))
}
