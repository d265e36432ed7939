package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tomoswap/txsync/notify"
	"github.com/tomoswap/txsync/session"
	"github.com/tomoswap/txsync/txm"
)

func (s *Server) getHealth(c *gin.Context) {
	report := map[string]string{}
	status := http.StatusOK
	for name, err := range s.health() {
		if err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "OK"
	}
	c.JSON(status, gin.H{"services": report})
}

func (s *Server) postTransaction(c *gin.Context) {
	var req txm.TxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}
	id, err := s.backend.AddNewPendingTransaction(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"id": id})
	case errors.Is(err, txm.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNoSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.lggr.Errorw("failed to add transaction", "hash", req.Hash, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// transactionResponse adds the fee paid, once mined, to a stored record.
type transactionResponse struct {
	*txm.TransactionRecord
	Fee string `json:"fee"`
}

func (s *Server) getTransaction(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.backend.Get(c.Request.Context(), id)
	switch {
	case err == nil:
		fee, err := rec.Fee()
		if err != nil {
			s.lggr.Errorw("stored record has malformed gas values", "id", id, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, transactionResponse{TransactionRecord: rec, Fee: fee.String()})
	case errors.Is(err, txm.ErrTxNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
	case errors.Is(err, session.ErrNoSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.lggr.Errorw("failed to get transaction", "id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (s *Server) listTransactions(c *gin.Context) {
	state := txm.Pending
	if q := c.Query("state"); q != "" {
		parsed, err := txm.ParseTxState(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state " + q})
			return
		}
		state = parsed
	}
	recs, err := s.backend.ListByState(c.Request.Context(), state)
	switch {
	case err == nil:
		if recs == nil {
			recs = []*txm.TransactionRecord{}
		}
		c.JSON(http.StatusOK, gin.H{
			"wallet":       s.backend.Wallet(),
			"state":        strings.ToLower(state.String()),
			"transactions": recs,
		})
	case errors.Is(err, session.ErrNoSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.lggr.Errorw("failed to list transactions", "state", state, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (s *Server) getNonce(c *gin.Context) {
	nonce, found, err := s.backend.LastRecordedNonce(c.Request.Context())
	switch {
	case err == nil:
		resp := gin.H{"wallet": s.backend.Wallet(), "found": found}
		if found {
			resp["nonce"] = nonce
		}
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, session.ErrNoSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.lggr.Errorw("failed to read nonce", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// streamEvents sends notifications as server-sent events until the client goes away.
// Repeat the topic query parameter to filter, e.g. ?topic=tx-updated.
func (s *Server) streamEvents(c *gin.Context) {
	var topics []notify.Topic
	for _, t := range c.QueryArray("topic") {
		topics = append(topics, notify.Topic(t))
	}
	ch, unsubscribe := s.events.Subscribe(topics...)
	defer unsubscribe()

	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Topic), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-s.stop:
			return false
		}
	})
}
