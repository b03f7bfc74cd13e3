package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"
	"github.com/timecoin/node/internal/engine"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// errStatus maps the closed error taxonomy to HTTP status codes.
var errStatus = map[timeerr.Kind]int{
	timeerr.KindInsufficientBalance:    http.StatusBadRequest,
	timeerr.KindInvalidTransaction:     http.StatusBadRequest,
	timeerr.KindDoubleSpend:            http.StatusBadRequest,
	timeerr.KindUtxoNotFound:           http.StatusBadRequest,
	timeerr.KindInvalidAddress:         http.StatusBadRequest,
	timeerr.KindInvalidSignature:       http.StatusBadRequest,
	timeerr.KindInvalidPrivateKey:      http.StatusBadRequest,
	timeerr.KindInsufficientCollateral: http.StatusBadRequest,
	timeerr.KindInvalidProposal:        http.StatusBadRequest,
	timeerr.KindDuplicateVote:          http.StatusBadRequest,
	timeerr.KindAlreadyRegistered:      http.StatusConflict,
	timeerr.KindNotFound:               http.StatusNotFound,
	timeerr.KindSnapshotNotFound:       http.StatusNotFound,
	timeerr.KindUnauthorized:           http.StatusUnauthorized,
	timeerr.KindUnauthorizedVoter:      http.StatusUnauthorized,
	timeerr.KindRateLimited:            http.StatusTooManyRequests,
	timeerr.KindQuarantined:            http.StatusForbidden,
	timeerr.KindTimeout:                http.StatusGatewayTimeout,
}

func writeError(c *gin.Context, err error) {
	kind := timeerr.KindOf(err)
	status, ok := errStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": kind.String(), "message": err.Error()})
}

// BlockSource serves historical blocks to the /blocks endpoint.
// Implemented by store.Store; nil when the node runs without a
// database.
type BlockSource interface {
	GetBlock(ctx context.Context, height uint64) (*models.Block, error)
}

// Handler holds every dependency the HTTP gateway needs to serve the
// CLI surface.
type Handler struct {
	engine *engine.Engine
	hub    *Hub
	blocks BlockSource
}

// SetupRouter builds the gin.Engine serving the public and
// bearer-protected endpoint groups. hub and blocks may be nil (no
// websocket stream / no block store).
func SetupRouter(eng *engine.Engine, hub *Hub, blocks BlockSource) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &Handler{engine: eng, hub: hub, blocks: blocks}

	pub := r.Group("/api/v1")
	pub.GET("/health", h.handleHealth)
	pub.GET("/peers", h.handlePeers)
	if hub != nil {
		pub.GET("/stream", hub.Subscribe)
	}

	prot := r.Group("/api/v1")
	prot.Use(AuthMiddleware())
	prot.Use(NewRateLimiter(120, 20).Middleware())
	{
		prot.GET("/blocks/:height", h.handleGetBlock)
		prot.GET("/balance/:address", h.handleBalance)

		prot.POST("/transactions", h.handleSubmitTransaction)
		prot.POST("/votes/:txid", h.handleVote)

		prot.GET("/mempool", h.handleMempoolList)
		prot.DELETE("/mempool", h.handleMempoolClear)

		tr := prot.Group("/treasury")
		{
			tr.GET("/info", h.handleTreasuryInfo)
			tr.GET("/proposals", h.handleListProposals)
			tr.GET("/proposals/:id", h.handleGetProposal)
			tr.POST("/proposals", h.handleCreateProposal)
			tr.POST("/proposals/:id/vote", h.handleVoteProposal)
		}

		q := prot.Group("/quarantine")
		{
			q.GET("", h.handleListQuarantine)
			q.POST("/:peer/release", h.handleReleaseQuarantine)
		}
	}

	return r
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "operational",
		"currentHeight":    h.engine.CurrentHeight(),
		"masternodeCount":  h.engine.MasternodeCount(),
		"mempoolSize":      h.engine.Mempool.Len(),
	})
}

func (h *Handler) handlePeers(c *gin.Context) {
	nodes := h.engine.GetMasternodes()
	out := make([]models.Masternode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	c.JSON(http.StatusOK, gin.H{"peers": out, "count": len(out)})
}

func (h *Handler) handleGetBlock(c *gin.Context) {
	height, err := strconv.ParseUint(c.Param("height"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_height"})
		return
	}
	if h.blocks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_block_store"})
		return
	}
	b, err := h.blocks.GetBlock(c.Request.Context(), height)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) handleBalance(c *gin.Context) {
	addr := c.Param("address")
	c.JSON(http.StatusOK, gin.H{
		"address":   addr,
		"balance":   h.engine.BalanceOf(addr),
		"available": h.engine.AvailableBalanceOf(addr),
	})
}

func (h *Handler) handleSubmitTransaction(c *gin.Context) {
	var tx models.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}

	result, err := h.engine.SubmitTransaction(c.Request.Context(), &tx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"txid":          result.Txid.String(),
		"outcome":       result.Outcome.String(),
		"approveWeight": result.ApproveWeight,
		"rejectWeight":  result.RejectWeight,
		"totalWeight":   result.TotalWeight,
	})
}

func (h *Handler) handleVote(c *gin.Context) {
	txid, err := chainhash.NewHashFromStr(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_txid"})
		return
	}

	var req struct {
		VoterID string `json:"voterId"`
		Approve bool   `json:"approve"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}

	choice := models.VoteReject
	if req.Approve {
		choice = models.VoteApprove
	}
	if err := h.engine.VoteOnTransaction(c.ClientIP(), req.VoterID, *txid, choice); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *Handler) handleMempoolList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.engine.Mempool.List(), "count": h.engine.Mempool.Len()})
}

func (h *Handler) handleMempoolClear(c *gin.Context) {
	h.engine.Mempool.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (h *Handler) handleTreasuryInfo(c *gin.Context) {
	proposals := h.engine.ProposalManager().GetAll()
	c.JSON(http.StatusOK, gin.H{"proposalCount": len(proposals)})
}

func (h *Handler) handleListProposals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"proposals": h.engine.ProposalManager().GetAll()})
}

func (h *Handler) handleGetProposal(c *gin.Context) {
	p, ok := h.engine.ProposalManager().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) handleCreateProposal(c *gin.Context) {
	var req struct {
		Proposer  string `json:"proposer"`
		Recipient string `json:"recipient"`
		Amount    uint64 `json:"amount"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}
	p := h.engine.ProposalManager().CreateProposal(req.Proposer, req.Recipient, req.Amount, req.Reason)
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) handleVoteProposal(c *gin.Context) {
	var req struct {
		VoterID string `json:"voterId"`
		Approve bool   `json:"approve"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}
	if err := h.engine.ProposalManager().Vote(c.Param("id"), req.VoterID, req.Approve); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (h *Handler) handleListQuarantine(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"records": h.engine.Quarantine.Active(time.Now())})
}

func (h *Handler) handleReleaseQuarantine(c *gin.Context) {
	h.engine.Quarantine.Release(c.Param("peer"))
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}
