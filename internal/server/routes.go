package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.App.Group("/api/v1")

	g := api.Group("/game/:game", s.resolveGame)
	g.Get("/snapshot", s.snapshotHandler)
	g.Post("/bet", s.placeBetHandler)
	g.Post("/cancel", s.cancelBetHandler)
	g.Post("/cashout", s.cashOutHandler)

	api.Get("/rounds", s.listRoundsHandler)
	api.Get("/rounds/:id", s.getRoundHandler)

	api.Get("/users/me/balance", s.balanceHandler)
	api.Get("/users/me/history", s.historyHandler)

	s.App.Get("/ws/:game", s.resolveGame, s.upgradeOnly, websocket.New(s.gameWebSocketHandler))
}
