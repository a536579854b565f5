package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Taha-Seddik/car-auction-backend/internal/cache"
	"github.com/Taha-Seddik/car-auction-backend/internal/config"
	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
	"github.com/Taha-Seddik/car-auction-backend/internal/guard"
	"github.com/Taha-Seddik/car-auction-backend/internal/metrics"
)

// Engine places bids and answers price queries.
type Engine interface {
	PlaceBid(ctx context.Context, auctionID, userID, amount int64) (*domain.Bid, error)
	CurrentHighest(ctx context.Context, auctionID int64) (int64, error)
}

// AuctionCloser ends a single auction on demand.
type AuctionCloser interface {
	CloseOne(ctx context.Context, auctionID int64) (*domain.Auction, error)
}

// BidQueue hands a bid to the message pipeline for asynchronous processing.
type BidQueue interface {
	PublishBid(ctx context.Context, auctionID, userID, amount int64) error
}

// Fabric is the event stream the gateway rebroadcasts from.
type Fabric interface {
	Subscriber
	Messages() <-chan cache.Message
}

// Handler owns the websocket endpoint and the fabric relay loop.
type Handler struct {
	hub     *Hub
	guard   *guard.Guard
	engine  Engine
	closer  AuctionCloser
	queue   BidQueue
	fabric  Fabric
	mode    string
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, g *guard.Guard, eng Engine, closer AuctionCloser, queue BidQueue, fabric Fabric, mode string, m *metrics.Metrics) *Handler {
	return &Handler{
		hub:     hub,
		guard:   g,
		engine:  eng,
		closer:  closer,
		queue:   queue,
		fabric:  fabric,
		mode:    mode,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS)
}

// ServeWS upgrades the connection and admits it through the guard. Rejected
// connections get a tooManyConnections message before the close frame so
// clients can tell the reason apart from a network failure.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn, ip, userID)
	if err := h.guard.Register(client.ID, ip, userID); err != nil {
		var capErr *guard.CapExceededError
		if errors.As(err, &capErr) {
			h.metrics.GuardRejected.WithLabelValues(capErr.By).Inc()
			payload, _ := json.Marshal(tooManyConnectionsMsg{
				Type:  "tooManyConnections",
				By:    capErr.By,
				Limit: capErr.Limit,
			})
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, payload)
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit"))
		conn.Close()
		return
	}

	h.metrics.ActiveConnections.Inc()
	log.Debug().Str("client_id", client.ID).Str("ip", ip).Int64("user_id", userID).Msg("client connected")

	go client.writePump()
	go client.readPump(h)
}

func (h *Handler) disconnect(c *Client) {
	h.guard.Unregister(c.ID, c.IP, c.UserID)
	h.hub.Leave(c)
	c.close()
	h.metrics.ActiveConnections.Dec()
	log.Debug().Str("client_id", c.ID).Msg("client disconnected")
}

func (h *Handler) dispatch(c *Client, raw []byte) {
	ctx := context.Background()

	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(bidErrorMsg{Type: "bidError", Message: "invalid payload"})
		return
	}

	switch msg.Type {
	case MsgJoinAuction:
		h.onJoin(ctx, c, msg)
	case MsgPlaceBid:
		h.onPlaceBid(ctx, c, msg)
	case MsgEndAuction:
		h.onEndAuction(ctx, c, msg)
	default:
		c.enqueue(bidErrorMsg{Type: "bidError", Message: "unknown message type"})
	}
}

func (h *Handler) onJoin(ctx context.Context, c *Client, msg clientMessage) {
	if msg.AuctionID <= 0 {
		c.enqueue(bidErrorMsg{Type: "bidError", Message: "invalid joinAuction payload"})
		return
	}
	if err := h.hub.Join(ctx, c, msg.AuctionID); err != nil {
		log.Error().Err(err).Int64("auction_id", msg.AuctionID).Msg("join auction")
		c.enqueue(bidErrorMsg{Type: "bidError", Message: "failed to join auction"})
		return
	}

	amount, err := h.engine.CurrentHighest(ctx, msg.AuctionID)
	if err != nil {
		if domain.IsRejection(err) {
			c.enqueue(bidErrorMsg{Type: "bidError", Message: err.Error()})
		} else {
			log.Error().Err(err).Int64("auction_id", msg.AuctionID).Msg("current highest lookup")
			c.enqueue(bidErrorMsg{Type: "bidError", Message: "failed to load auction state"})
		}
		return
	}
	c.enqueue(currentHighestMsg{Type: "currentHighest", Amount: amount})
}

func (h *Handler) onPlaceBid(ctx context.Context, c *Client, msg clientMessage) {
	userID := msg.UserID
	if userID == 0 {
		userID = c.UserID
	}
	if msg.AuctionID <= 0 || userID <= 0 || msg.Amount <= 0 {
		c.enqueue(bidErrorMsg{Type: "bidError", Message: "invalid placeBid payload"})
		return
	}

	if err := h.guard.AllowBid(userID, c.IP); err != nil {
		var rl *guard.RateLimitError
		if errors.As(err, &rl) {
			h.metrics.GuardRejected.WithLabelValues("rate").Inc()
			c.enqueue(rateLimitedMsg{Type: "rateLimited", PerSec: rl.PerSec, Per10s: rl.Per10s})
			return
		}
		c.enqueue(bidErrorMsg{Type: "bidError", Message: "bid not allowed"})
		return
	}

	if h.mode == config.BidModeQueue {
		if err := h.queue.PublishBid(ctx, msg.AuctionID, userID, msg.Amount); err != nil {
			log.Error().Err(err).Int64("auction_id", msg.AuctionID).Msg("queue bid")
			c.enqueue(bidErrorMsg{Type: "bidError", Message: "failed to queue bid"})
			return
		}
		h.metrics.BidsQueued.Inc()
		c.enqueue(bidQueuedMsg{Type: "bidQueued", OK: true})
		return
	}

	bid, err := h.engine.PlaceBid(ctx, msg.AuctionID, userID, msg.Amount)
	if err != nil {
		if domain.IsRejection(err) {
			c.enqueue(bidErrorMsg{Type: "bidError", Message: err.Error()})
		} else {
			log.Error().Err(err).Int64("auction_id", msg.AuctionID).Msg("place bid")
			c.enqueue(bidErrorMsg{Type: "bidError", Message: "failed to place bid"})
		}
		return
	}
	c.enqueue(bidAcceptedMsg{Type: "bidAccepted", BidID: bid.ID, Amount: bid.Amount})
}

func (h *Handler) onEndAuction(ctx context.Context, c *Client, msg clientMessage) {
	if msg.AuctionID <= 0 {
		c.enqueue(bidErrorMsg{Type: "bidError", Message: "invalid endAuction payload"})
		return
	}
	auction, err := h.closer.CloseOne(ctx, msg.AuctionID)
	if err != nil {
		if domain.IsRejection(err) {
			c.enqueue(bidErrorMsg{Type: "bidError", Message: err.Error()})
		} else {
			log.Error().Err(err).Int64("auction_id", msg.AuctionID).Msg("end auction")
			c.enqueue(bidErrorMsg{Type: "bidError", Message: "failed to end auction"})
		}
		return
	}
	c.enqueue(auctionEndMsg{
		Type:     domain.EventAuctionEnd,
		WinnerID: auction.WinnerID,
		Amount:   auction.CurrentHighestBid,
	})
}

// Run relays fabric events into the rooms watching them. It returns when the
// context is cancelled or the fabric stream closes.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-h.fabric.Messages():
			if !ok {
				return
			}
			h.relay(m)
		}
	}
}

func (h *Handler) relay(m cache.Message) {
	auctionID, ok := cache.AuctionIDFromChannel(m.Channel)
	if !ok {
		return
	}

	var head domain.EventHead
	if err := json.Unmarshal([]byte(m.Payload), &head); err != nil {
		log.Warn().Err(err).Str("channel", m.Channel).Msg("malformed fabric event")
		return
	}

	switch head.Type {
	case domain.EventBidUpdate:
		var evt domain.BidUpdateEvent
		if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
			log.Warn().Err(err).Str("channel", m.Channel).Msg("malformed bid update")
			return
		}
		payload, _ := json.Marshal(bidUpdateMsg{
			Type:   domain.EventBidUpdate,
			Amount: evt.Amount,
			UserID: evt.UserID,
			TS:     evt.Timestamp,
		})
		h.hub.Broadcast(auctionID, payload)
	case domain.EventAuctionEnd:
		var evt domain.AuctionEndEvent
		if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
			log.Warn().Err(err).Str("channel", m.Channel).Msg("malformed auction end")
			return
		}
		payload, _ := json.Marshal(auctionEndMsg{
			Type:     domain.EventAuctionEnd,
			WinnerID: evt.WinnerID,
			Amount:   evt.Amount,
		})
		h.hub.Broadcast(auctionID, payload)
	default:
		log.Debug().Str("type", head.Type).Msg("ignoring unknown fabric event")
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
