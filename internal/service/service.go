package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/websocket"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vykintas/voice-keyboard/internal/api"
)

type TurnProvider interface {
	GetTurns(ctx context.Context, id string) ([]*api.TranscriptionResult, error)
}

type AudioProvider interface {
	GetAudio(ctx context.Context, id string) ([]byte, error)
}

// Data keeps data required for the status service
type Data struct {
	Port  int
	Turns TurnProvider
	Audio AudioProvider
	Feed  *Feed
	Ctx   context.Context
}

// StartWebServer starts the echo status service
func StartWebServer(data *Data) (<-chan struct{}, error) {
	goapp.Log.Info().Msgf("Starting status service at %d", data.Port)
	if err := validate(data); err != nil {
		return nil, err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	res := make(chan struct{}, 1)
	go func() {
		defer close(res)
		if err := gracehttp.Serve(e.Server); err != nil {
			goapp.Log.Error().Err(err).Msg("can't start web server")
		}
		goapp.Log.Info().Msg("exit http routine")
	}()
	return res, nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("voice_keyboard", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/live", live(data))
	e.GET("/transcripts/:id", transcripts(data))
	e.GET("/audio/:id", audioWav(data))
	e.GET("/ws/feed", feed(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

func transcripts(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		id := c.Param("id")
		turns, err := data.Turns.GetTurns(c.Request().Context(), id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, turns)
	}
}

func audioWav(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		id := c.Param("id")
		wavData, err := data.Audio.GetAudio(c.Request().Context(), id)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return c.Blob(http.StatusOK, "audio/wav", wavData)
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func feed(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		items, cancel := data.Feed.Subscribe()
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			// detect client disconnect
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-data.Ctx.Done():
				return nil
			case <-done:
				return nil
			case item, ok := <-items:
				if !ok {
					return nil
				}
				if err := ws.WriteJSON(item); err != nil {
					goapp.Log.Error().Err(err).Msg("write error")
					return nil
				}
			}
		}
	}
}

func validate(data *Data) error {
	if data.Turns == nil {
		return fmt.Errorf("no turn provider")
	}
	if data.Audio == nil {
		return fmt.Errorf("no audio provider")
	}
	if data.Feed == nil {
		return fmt.Errorf("no feed")
	}
	return nil
}
