package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/graniteshield/outbox/handler"
)

type metaEvent struct {
	EventName    string         `json:"event_name"`
	EventTime    int64          `json:"event_time"`
	EventID      string         `json:"event_id"`
	ActionSource string         `json:"action_source"`
	UserData     metaUserData   `json:"user_data"`
	CustomData   metaCustomData `json:"custom_data"`
}

type metaUserData struct {
	Email     []string `json:"em,omitempty"`
	Phone     []string `json:"ph,omitempty"`
	FirstName []string `json:"fn,omitempty"`
	LastName  []string `json:"ln,omitempty"`
	Country   []string `json:"country"`
	State     []string `json:"st"`
	FBC       string   `json:"fbc,omitempty"`
}

type metaCustomData struct {
	Currency        string  `json:"currency"`
	Value           float64 `json:"value"`
	ContentName     string  `json:"content_name"`
	ContentCategory string  `json:"content_category"`
	LeadEngineID    string  `json:"lead_engine_id,omitempty"`
	QuoteID         string  `json:"quote_id,omitempty"`
	OrderID         string  `json:"order_id,omitempty"`
}

type metaResponse struct {
	EventsReceived int    `json:"events_received"`
	FBTraceID      string `json:"fbtrace_id"`
}

func (h *Handler) sendMeta(ctx context.Context, p Payload, dedup string, now time.Time) outcome {
	o := outcome{platform: "meta"}
	if !h.cfg.metaConfigured() {
		o.skipped = true
		return o
	}
	if err := h.wait(ctx, "meta"); err != nil {
		o.result = handler.Retry(handler.ReasonTimeout)
		return o
	}

	body := map[string][]metaEvent{"data": {h.metaEvent(p, dedup, now)}}
	endpoint := fmt.Sprintf("%s/%s/events?access_token=%s",
		h.cfg.MetaBaseURL, url.PathEscape(h.cfg.MetaPixelID), url.QueryEscape(h.cfg.MetaAccessToken))

	resp, err := h.client.PostJSON(ctx, endpoint, nil, body)
	o.result = handler.Classify("meta", resp, err)
	if o.result.OK {
		var out metaResponse
		_ = json.Unmarshal(resp.Body, &out)
		o.result.ExternalID = out.FBTraceID
		if o.result.ExternalID == "" {
			o.result.ExternalID = dedup
		}
	}
	return o
}

func (h *Handler) metaEvent(p Payload, dedup string, now time.Time) metaEvent {
	ud := metaUserData{
		Country: []string{Hash("us")},
		State:   []string{Hash(h.cfg.Region)},
	}
	if p.Email != "" {
		ud.Email = []string{Hash(p.Email)}
	}
	if p.Phone != "" {
		ud.Phone = []string{HashPhone(p.Phone)}
	}
	if p.FirstName != "" {
		ud.FirstName = []string{Hash(p.FirstName)}
	}
	if p.LastName != "" {
		ud.LastName = []string{Hash(p.LastName)}
	}
	if p.FBCLID != "" {
		ud.FBC = fmt.Sprintf("fb.1.%d.%s", now.UnixMilli(), p.FBCLID)
	}

	return metaEvent{
		EventName:    "Purchase",
		EventTime:    now.Unix(),
		EventID:      dedup,
		ActionSource: "system_generated",
		UserData:     ud,
		CustomData: metaCustomData{
			Currency:        p.CurrencyCode(),
			Value:           p.Amount().InexactFloat64(),
			ContentName:     "Roofing Project",
			ContentCategory: "Home Improvement",
			LeadEngineID:    p.LeadEngineID,
			QuoteID:         p.QuoteID,
			OrderID:         p.OpportunityID,
		},
	}
}
