package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"verdantdo/dashboard"
	"verdantdo/identity"
)

const (
	sseDataPrefix = "data: "
	wsWriteWait   = 10 * time.Second
	wsPingPeriod  = 30 * time.Second

	// overdueRefresh is how often a quiet stream re-evaluates overdue flags.
	overdueRefresh = time.Minute
)

// streamView pushes the derived view as Server-Sent Events, one frame per
// change.
func streamView(store Store, verifier identity.Verifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := credential(c)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, mutationResponse{Notice: noticePtr(dashboard.SignInNotice(err))})
		}
		ctx := c.Request().Context()
		lv, err := openLiveView(ctx, store, verifier, token, logger)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, mutationResponse{Notice: noticePtr(dashboard.SignInNotice(err))})
		}
		defer lv.Close()

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)

		refresh := time.NewTicker(overdueRefresh)
		defer refresh.Stop()
		var last []byte
		for {
			data, err := sonic.Marshal(lv.View())
			if err != nil {
				logger.WithError(err).Error("marshal view")
				return err
			}
			if !bytes.Equal(data, last) {
				if err := writeSSE(c.Response(), data); err != nil {
					logger.WithError(err).Debug("stream client gone")
					return nil
				}
				flusher.Flush()
				last = data
			}
			select {
			case <-ctx.Done():
				return nil
			case <-refresh.C:
				lv.agg.Refresh()
			case <-lv.updates:
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte(sseDataPrefix)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// websocketView pushes the same frames as streamView over a WebSocket. The
// client only reads; anything it sends is discarded.
func websocketView(store Store, verifier identity.Verifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := credential(c)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, mutationResponse{Notice: noticePtr(dashboard.SignInNotice(err))})
		}
		lv, err := openLiveView(c.Request().Context(), store, verifier, token, logger)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, mutationResponse{Notice: noticePtr(dashboard.SignInNotice(err))})
		}
		defer lv.Close()

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade")
			return nil
		}
		defer ws.Close()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		refresh := time.NewTicker(overdueRefresh)
		defer refresh.Stop()
		var last []byte
		for {
			data, err := sonic.Marshal(lv.View())
			if err != nil {
				logger.WithError(err).Error("marshal view")
				return nil
			}
			if !bytes.Equal(data, last) {
				ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return nil
				}
				last = data
			}
			select {
			case <-closed:
				return nil
			case <-ping.C:
				ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return nil
				}
			case <-refresh.C:
				lv.agg.Refresh()
			case <-lv.updates:
			}
		}
	}
}
