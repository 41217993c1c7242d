package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/kodomolab/voice-relay/internal/relay"
)

// RelayHandler upgrades client connections at the root path and hands them
// to the relay engine. The route is registered only at "/", so any other
// path never reaches the upgrade.
type RelayHandler struct {
	engine *relay.Engine
}

func NewRelayHandler(engine *relay.Engine) *RelayHandler {
	return &RelayHandler{engine: engine}
}

func (h *RelayHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *RelayHandler) Handle() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID := c.Query("userId")
		h.engine.HandleConnection(c, userID)
	})
}
