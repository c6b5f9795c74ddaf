package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/graniteshield/outbox/handler"
)

// googleTimeLayout is the conversion timestamp format Google Ads accepts.
const googleTimeLayout = "2006-01-02 15:04:05-07:00"

type googleUpload struct {
	Conversions    []googleConversion `json:"conversions"`
	PartialFailure bool               `json:"partialFailure"`
}

type googleConversion struct {
	GCLID              string  `json:"gclid"`
	ConversionAction   string  `json:"conversionAction"`
	ConversionDateTime string  `json:"conversionDateTime"`
	ConversionValue    float64 `json:"conversionValue"`
	CurrencyCode       string  `json:"currencyCode"`
	OrderID            string  `json:"orderId"`
}

func (h *Handler) sendGoogle(ctx context.Context, p Payload, dedup string, now time.Time) outcome {
	o := outcome{platform: "google"}
	if !h.cfg.googleConfigured() || p.GCLID == "" {
		o.skipped = true
		return o
	}
	if err := h.wait(ctx, "google"); err != nil {
		o.result = handler.Retry(handler.ReasonTimeout)
		return o
	}

	cid := h.cfg.GoogleCustomerID
	body := googleUpload{
		Conversions: []googleConversion{{
			GCLID:              p.GCLID,
			ConversionAction:   fmt.Sprintf("customers/%s/conversionActions/%s", cid, h.cfg.GoogleConversionActionID),
			ConversionDateTime: now.UTC().Format(googleTimeLayout),
			ConversionValue:    p.Amount().InexactFloat64(),
			CurrencyCode:       p.CurrencyCode(),
			OrderID:            dedup,
		}},
		PartialFailure: true,
	}

	resp, err := h.client.PostJSON(ctx,
		fmt.Sprintf("%s/customers/%s:uploadClickConversions", h.cfg.GoogleBaseURL, cid),
		map[string]string{
			"Authorization":   "Bearer " + h.cfg.GoogleOAuthToken,
			"developer-token": h.cfg.GoogleDeveloperToken,
		},
		body,
	)
	o.result = handler.Classify("google", resp, err)
	if o.result.OK {
		o.result.ExternalID = dedup
	}
	return o
}
