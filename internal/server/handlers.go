package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glowcast/giftgate/internal/actor"
	"github.com/glowcast/giftgate/internal/gate"
)

type ctxKey int

const actorKey ctxKey = iota

// actorMiddleware resolves the calling actor from headers set by the
// platform's auth proxy. Primary authentication happens upstream; the
// gate only consumes the resolved identity.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Actor-ID")
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		a := &actor.Actor{
			ID:        id,
			Role:      actor.ParseRole(c.GetHeader("X-Actor-Role")),
			Platform:  parsePlatform(c.GetHeader("X-Platform")),
			SessionID: c.GetHeader("X-Session-ID"),
			IP:        c.ClientIP(),
		}
		ctx := context.WithValue(c.Request.Context(), actorKey, a)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func parsePlatform(s string) actor.Platform {
	if s == string(actor.PlatformWeb) {
		return actor.PlatformWeb
	}
	return actor.PlatformNative
}

// contextAuth reads the actor the middleware resolved.
type contextAuth struct{}

func (contextAuth) CurrentActor(ctx context.Context) (*actor.Actor, error) {
	a, ok := ctx.Value(actorKey).(*actor.Actor)
	if !ok {
		return nil, errors.New("no actor in request context")
	}
	return a, nil
}

// statusFor maps a deny reason onto an HTTP status code.
func statusFor(reason gate.DenyReason) int {
	switch reason {
	case gate.ReasonSessionTokenInvalid:
		return http.StatusUnauthorized
	case gate.ReasonInvalidTarget:
		return http.StatusNotFound
	case gate.ReasonInsufficientBalance:
		return http.StatusPaymentRequired
	case gate.ReasonDuplicateProcessing:
		return http.StatusConflict
	case gate.ReasonRateLimited, gate.ReasonBurstSpam:
		return http.StatusTooManyRequests
	case gate.ReasonInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

func deny(c *gin.Context, d gate.Decision) {
	body := gin.H{"allow": false, "reason": d.Reason}
	if d.BanIssued != nil {
		body["ban"] = d.BanIssued
	}
	c.JSON(statusFor(d.Reason), body)
}

func (s *Server) currentActor(c *gin.Context) (*actor.Actor, bool) {
	a, err := s.auth.CurrentActor(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return nil, false
	}
	return a, true
}

func (s *Server) availableHandler(c *gin.Context) {
	a, ok := s.currentActor(c)
	if !ok {
		return
	}
	if d := s.gate.Available(c.Request.Context(), a); !d.Allow {
		deny(c, d)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allow": true})
}

func (s *Server) pendingHandler(c *gin.Context) {
	a, ok := s.currentActor(c)
	if !ok {
		return
	}
	if d := s.gate.Available(c.Request.Context(), a); !d.Allow {
		deny(c, d)
		return
	}
	requests, err := s.requests.ListRecent(c.Request.Context(), a.ID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	// The envelope is gate-internal; callers only need the transaction.
	for _, r := range requests {
		r.Envelope = nil
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

type requestBody struct {
	PayerID string `json:"payer_id" binding:"required"`
	GiftID  string `json:"gift_id" binding:"required"`
	Amount  int64  `json:"amount"`
}

func (s *Server) requestHandler(c *gin.Context) {
	a, ok := s.currentActor(c)
	if !ok {
		return
	}
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	req, d := s.gate.Request(c.Request.Context(), a, gate.RequestInput{
		SessionToken: c.GetHeader("X-Session-Token"),
		PayerID:      body.PayerID,
		GiftID:       body.GiftID,
		Amount:       body.Amount,
	})
	if !d.Allow {
		deny(c, d)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"allow": true,
		"request": gin.H{
			"id":         req.ID,
			"payer_id":   req.PayerID,
			"gift_id":    req.GiftID,
			"amount":     req.Amount,
			"status":     req.Status,
			"expires_at": req.ExpiresAt,
		},
	})
}

func (s *Server) acceptHandler(c *gin.Context) {
	a, ok := s.currentActor(c)
	if !ok {
		return
	}
	res, d := s.gate.Accept(c.Request.Context(), a, gate.AcceptInput{
		SessionToken: c.GetHeader("X-Session-Token"),
		RequestID:    c.Param("id"),
	})
	if !d.Allow {
		deny(c, d)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allow":       true,
		"request_id":  res.Request.ID,
		"status":      res.Request.Status,
		"amount":      res.Request.Amount,
		"new_balance": res.NewBalance,
	})
}

func (s *Server) rejectHandler(c *gin.Context) {
	a, ok := s.currentActor(c)
	if !ok {
		return
	}
	if d := s.gate.Reject(c.Request.Context(), a, c.Param("id")); !d.Allow {
		deny(c, d)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allow": true, "status": "rejected"})
}

func (s *Server) purgeHandler(c *gin.Context) {
	a, ok := s.currentActor(c)
	if !ok {
		return
	}
	purged, d := s.gate.Purge(c.Request.Context(), a)
	if !d.Allow {
		deny(c, d)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allow": true, "purged": purged})
}
