package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"binance-spot-executor/internal/trading"
)

// Number accepts a JSON number or a numeric string, as alert templates send both
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// AlertRequest is the body of POST /api/alert
type AlertRequest struct {
	Ticker      string `json:"ticker" binding:"required"`
	Direction   string `json:"direction" binding:"required,oneof=aBuy aSell"`
	Price       Number `json:"price" binding:"required,gt=0"`
	BuyCoef     Number `json:"buyCoef" binding:"gte=0"`
	SellCoef    Number `json:"sellCoef" binding:"gte=0"`
	ATR         Number `json:"atr"`
	Stdev       Number `json:"stdev"`
	VolRatio    Number `json:"volRatio"`
	Reliability Number `json:"reliability"`
	Passphrase  string `json:"passphrase,omitempty"`

	TfDir  string `json:"tfDir"`
	Tf1Dir string `json:"tf1Dir"`
	Tf2Dir string `json:"tf2Dir"`
	Tf3Dir string `json:"tf3Dir"`
	Tf4Dir string `json:"tf4Dir"`
	Tf5Dir string `json:"tf5Dir"`

	TfUpperVal  Number `json:"tfUpperVal"`
	Tf1UpperVal Number `json:"tf1UpperVal"`
	Tf2UpperVal Number `json:"tf2UpperVal"`
	Tf3UpperVal Number `json:"tf3UpperVal"`
	Tf4UpperVal Number `json:"tf4UpperVal"`
	Tf5UpperVal Number `json:"tf5UpperVal"`

	TfLowerVal  Number `json:"tfLowerVal"`
	Tf1LowerVal Number `json:"tf1LowerVal"`
	Tf2LowerVal Number `json:"tf2LowerVal"`
	Tf3LowerVal Number `json:"tf3LowerVal"`
	Tf4LowerVal Number `json:"tf4LowerVal"`
	Tf5LowerVal Number `json:"tf5LowerVal"`
}

// Signal converts the alert into the engine's signal, shortest timeframe first
func (r AlertRequest) Signal(receivedAt time.Time) trading.Signal {
	dirs := [trading.TimeframeCount]string{r.TfDir, r.Tf1Dir, r.Tf2Dir, r.Tf3Dir, r.Tf4Dir, r.Tf5Dir}
	uppers := [trading.TimeframeCount]Number{r.TfUpperVal, r.Tf1UpperVal, r.Tf2UpperVal, r.Tf3UpperVal, r.Tf4UpperVal, r.Tf5UpperVal}
	lowers := [trading.TimeframeCount]Number{r.TfLowerVal, r.Tf1LowerVal, r.Tf2LowerVal, r.Tf3LowerVal, r.Tf4LowerVal, r.Tf5LowerVal}

	sig := trading.Signal{
		Symbol:      strings.ToUpper(strings.TrimSpace(r.Ticker)),
		Direction:   trading.Direction(r.Direction),
		Price:       float64(r.Price),
		BuyCoef:     float64(r.BuyCoef),
		SellCoef:    float64(r.SellCoef),
		ATR:         float64(r.ATR),
		Stdev:       float64(r.Stdev),
		VolRatio:    float64(r.VolRatio),
		Reliability: float64(r.Reliability),
		ReceivedAt:  receivedAt,
	}
	for i := range sig.Timeframes {
		sig.Timeframes[i] = trading.Timeframe{Dir: dirs[i], Upper: float64(uppers[i]), Lower: float64(lowers[i])}
	}
	return sig
}
