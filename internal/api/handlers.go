package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"binance-spot-executor/internal/logging"
	"binance-spot-executor/internal/position"
	"binance-spot-executor/internal/scoring"
	"binance-spot-executor/internal/trading"
)

// handleAlert dispatches a signal to the position engine
func (s *Server) handleAlert(c *gin.Context) {
	var req AlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid alert: "+err.Error())
		return
	}
	if !s.checkPassphrase(req.Passphrase) {
		errorResponse(c, http.StatusUnauthorized, "Invalid passphrase")
		return
	}

	ctx := c.Request.Context()
	sig := req.Signal(time.Now())
	if sig.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "Invalid alert: empty ticker")
		return
	}
	log := logging.SignalContext(logging.FromContext(ctx, s.logger), sig.Symbol, string(sig.Direction), sig.Price)

	k := scoring.ShrinkCoefficient(scoring.ShrinkMetrics{
		ATR:         sig.ATR,
		Stdev:       sig.Stdev,
		VolRatio:    sig.VolRatio,
		Reliability: sig.Reliability,
	}, s.config.Shrink)
	log.Info().
		Float64("buy_coef", sig.BuyCoef).
		Float64("sell_coef", sig.SellCoef).
		Float64("atr", sig.ATR).
		Float64("stdev", sig.Stdev).
		Float64("vol_ratio", sig.VolRatio).
		Float64("reliability", sig.Reliability).
		Float64("k", k).
		Msg("Alert received")

	var (
		decision *position.Decision
		err      error
	)
	if sig.Direction == trading.DirectionSell {
		decision, err = s.engine.DecideSell(ctx, sig)
	} else {
		decision, err = s.engine.DecideBuy(ctx, sig)
	}
	if err != nil {
		log.Error().Err(err).Msg("Alert processing failed")
		status := http.StatusInternalServerError
		if errors.Is(err, trading.ErrPriceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		errorResponse(c, status, err.Error())
		return
	}

	out := *decision
	out.Context.Candles = nil
	successResponse(c, out)
}

// checkPassphrase verifies the alert passphrase against the configured bcrypt hash
func (s *Server) checkPassphrase(passphrase string) bool {
	if s.config.PassphraseHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(s.config.PassphraseHash), []byte(passphrase)) == nil
}

func (s *Server) handleGetLots(c *gin.Context) {
	ctx := c.Request.Context()
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))

	var (
		lots []trading.Lot
		err  error
	)
	if symbol != "" {
		lots, err = s.lots.Lots(ctx, symbol)
	} else {
		lots, err = s.lots.AllLots(ctx)
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	if lots == nil {
		lots = []trading.Lot{}
	}
	successResponse(c, lots)
}

func (s *Server) handleGetPendingOrders(c *gin.Context) {
	orders, err := s.pending.PendingOrders(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	if orders == nil {
		orders = []trading.PendingOrder{}
	}
	successResponse(c, orders)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	components := gin.H{}
	for name, check := range s.checks {
		if err := check(c.Request.Context()); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     state,
		"components": components,
		"time":       time.Now().UTC(),
	})
}
