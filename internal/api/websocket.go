package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/timecoin/node/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// event is the envelope pushed to every subscribed client.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans out finality, block, and quarantine notifications to every
// connected websocket client: a mutex-guarded client set, a buffered
// broadcast channel drained by a single Run loop, per-write deadlines
// so a stalled client can't block the hub.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

// NewHub creates an idle hub; callers must start Run in a goroutine.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast channel until it is closed, one message at
// a time, to every currently connected client.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades the request to a websocket and registers the
// connection as a broadcast recipient.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	log.Printf("new websocket client connected, total %d", total)

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			remaining := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("websocket client disconnected, remaining %d", remaining)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				break
			}
		}
	}()
}

// NotifyFinalized implements txconsensus.Notifier.
func (h *Hub) NotifyFinalized(tx models.Transaction) { h.publish("tx_finalized", tx) }

// NotifyRejected implements txconsensus.Notifier.
func (h *Hub) NotifyRejected(txid chainhash.Hash) {
	h.publish("tx_rejected", gin.H{"txid": txid.String()})
}

// NotifyUnresolved implements txconsensus.Notifier.
func (h *Hub) NotifyUnresolved(txid chainhash.Hash) {
	h.publish("tx_unresolved", gin.H{"txid": txid.String()})
}

// NotifyBlockProduced announces a new finalized block.
func (h *Hub) NotifyBlockProduced(b models.Block) { h.publish("block_produced", b) }

// NotifyQuarantine announces a peer entering quarantine.
func (h *Hub) NotifyQuarantine(rec models.QuarantineRecord) { h.publish("peer_quarantined", rec) }

func (h *Hub) publish(kind string, payload any) {
	data, err := json.Marshal(event{Type: kind, Payload: payload})
	if err != nil {
		log.Printf("failed to encode %s event: %v", kind, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("broadcast channel full, dropping %s event", kind)
	}
}
