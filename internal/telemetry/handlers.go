package telemetry

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"backend-etaone/internal/shared/geo"
	"backend-etaone/internal/strategy"
	"backend-etaone/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const localProducer = "producer"

// TokenValidator checks a producer access token and returns the device id.
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

// PositionRequest is the wire form of a producer fix, shared by the REST,
// websocket and MQTT transports.
type PositionRequest struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
	// Timestamp is epoch milliseconds; arrival time is used when absent.
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// NewPositionRequest is the inverse of Coordinate.
func NewPositionRequest(c geo.Coordinate) PositionRequest {
	req := PositionRequest{Lat: c.Lat, Lon: c.Lon, Accuracy: c.Accuracy}
	if !c.Timestamp.IsZero() {
		ms := c.Timestamp.UnixMilli()
		req.Timestamp = &ms
	}
	return req
}

func (p PositionRequest) Coordinate() geo.Coordinate {
	c := geo.Coordinate{Lat: p.Lat, Lon: p.Lon, Accuracy: p.Accuracy}
	if p.Timestamp != nil {
		c.Timestamp = time.UnixMilli(*p.Timestamp)
	}
	return c
}

type StrategyRequest struct {
	Mode     string `json:"mode"`
	SectorID *int   `json:"sectorId,omitempty"`
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RegisterRoutes mounts the query surface and the producer REST endpoints.
// producerMiddleware guards mutations.
func RegisterRoutes(r fiber.Router, svc *Service, producerMiddleware fiber.Handler) {
	r.Get("/session", func(c *fiber.Ctx) error {
		return c.JSON(svc.Snapshot())
	})

	r.Get("/session/latest", func(c *fiber.Ctx) error {
		latest, ok := svc.Latest()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no position yet")
		}
		return c.JSON(latest)
	})

	r.Get("/export", func(c *fiber.Ctx) error {
		doc := svc.Export()
		c.Attachment(ExportFilename(doc.ExportTimestamp, "json"))
		return c.JSON(doc)
	})

	r.Get("/export/gpx", func(c *fiber.Ctx) error {
		data, err := svc.ExportGPX()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Attachment(ExportFilename(time.Now(), "gpx"))
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		return c.Send(data)
	})

	r.Post("/session/positions", producerMiddleware, func(c *fiber.Ctx) error {
		var req PositionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		update, err := svc.IngestPosition(req.Coordinate(), "")
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(update)
	})

	r.Post("/session/strategy", producerMiddleware, func(c *fiber.Ctx) error {
		var req StrategyRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		evt, err := svc.ChangeStrategy(req.Mode, req.SectorID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(evt)
	})

	r.Post("/session/reset", producerMiddleware, func(c *fiber.Ctx) error {
		svc.Reset()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// RegisterStreamRoutes mounts the websocket endpoint. With a nil validator
// every connection may produce; otherwise position and reset events need a
// valid ?token=.
func RegisterStreamRoutes(r fiber.Router, svc *Service, hub *stream.Hub, tokens TokenValidator) {
	r.Get("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals(localProducer, canProduce(tokens, c.Query("token")))
		return c.Next()
	}, websocket.New(func(conn *websocket.Conn) {
		producer, _ := conn.Locals(localProducer).(bool)

		client := hub.Register()
		svc.ReaderConnected()
		defer svc.ReaderDisconnected()

		svc.SnapshotTo(func(snap Snapshot) {
			reply(hub, client, stream.Envelope{Type: stream.KindSessionSnapshot, Data: snap})
		})

		stream.Serve(hub, conn, client, func(msg []byte) {
			svc.handleInbound(hub, client, producer, msg)
		})
	}))
}

func canProduce(tokens TokenValidator, token string) bool {
	if tokens == nil {
		return true
	}
	if token == "" {
		return false
	}
	_, err := tokens.ValidateAccessToken(token)
	return err == nil
}

func (s *Service) handleInbound(hub *stream.Hub, client *stream.Client, producer bool, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		replyError(hub, client, "bad-request", "malformed message")
		return
	}

	switch msg.Type {
	case "position":
		if !producer {
			replyError(hub, client, "forbidden", "producer token required")
			return
		}
		var req PositionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			replyError(hub, client, "bad-request", err.Error())
			return
		}
		if _, err := s.IngestPosition(req.Coordinate(), client.ID); err != nil {
			replyErr(hub, client, err)
		}

	case "strategy-change":
		var req StrategyRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			replyError(hub, client, "bad-request", err.Error())
			return
		}
		if _, err := s.ChangeStrategy(req.Mode, req.SectorID); err != nil {
			replyErr(hub, client, err)
		}

	case "request-latest":
		if latest, ok := s.Latest(); ok {
			reply(hub, client, stream.Envelope{Type: stream.KindPositionUpdate, Data: latest})
		}

	case "request-snapshot":
		s.SnapshotTo(func(snap Snapshot) {
			reply(hub, client, stream.Envelope{Type: stream.KindSessionSnapshot, Data: snap})
		})

	case "reset-session":
		if !producer {
			replyError(hub, client, "forbidden", "producer token required")
			return
		}
		s.Reset()

	default:
		replyError(hub, client, "bad-request", "unknown event "+msg.Type)
	}
}

func reply(hub *stream.Hub, client *stream.Client, env stream.Envelope) {
	if err := hub.SendTo(client, env); err != nil {
		log.Printf("telemetry: %v", err)
	}
}

func replyError(hub *stream.Hub, client *stream.Client, code, message string) {
	reply(hub, client, stream.Envelope{Type: stream.KindError, Data: ErrorPayload{Code: code, Message: message}})
}

func replyErr(hub *stream.Hub, client *stream.Client, err error) {
	replyError(hub, client, errorCode(err), err.Error())
}

func errorCode(err error) string {
	var stale *StaleTimestampError
	var invalidStrategy *strategy.InvalidStrategyError
	var invalidCoord *geo.InvalidCoordinateError
	switch {
	case errors.As(err, &stale):
		return "stale-timestamp"
	case errors.As(err, &invalidStrategy):
		return "invalid-strategy"
	case errors.As(err, &invalidCoord):
		return "invalid-coordinate"
	case errors.Is(err, ErrUnknownSector):
		return "unknown-sector"
	}
	return "internal"
}

func httpError(err error) error {
	switch errorCode(err) {
	case "stale-timestamp":
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case "invalid-strategy", "invalid-coordinate", "unknown-sector":
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
