package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Template types with a dedicated layout.
const (
	TypeNoShow     = "no_show_alert"
	TypeDeadLetter = "dead_letter_alert"
	TypeStaleQuote = "stale_quote_alert"
)

// Fields is a notification payload: a type plus arbitrary string-ish fields.
type Fields map[string]any

// Get returns the field as text, or "" when absent.
func (f Fields) Get(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Or returns the field, or def when it is empty.
func (f Fields) Or(key, def string) string {
	if v := f.Get(key); v != "" {
		return v
	}
	return def
}

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
}

type row struct {
	label string
	value string
	tel   bool
}

type layout struct {
	color    string
	heading  string
	intro    string
	rows     []row
	footer   string
	urgentFt bool
}

var templates = map[string]func(Fields) (string, layout){
	TypeNoShow: func(f Fields) (string, layout) {
		return fmt.Sprintf("⚠️ NO-SHOW: %s %s — %s", f.Or("firstName", "Unknown"), f.Get("lastName"), f.Or("address", "No address")),
			layout{
				color:   "#dc2626",
				heading: "Inspection No-Show Alert",
				intro:   "The following customer did not show up for their scheduled inspection:",
				rows: []row{
					{label: "Name", value: name(f)},
					{label: "Phone", value: f.Or("phone", "N/A"), tel: true},
					{label: "Address", value: f.Or("address", "N/A")},
				},
				footer: "A reschedule SMS has been sent automatically. Manual follow-up may be needed.",
			}
	},
	TypeDeadLetter: func(f Fields) (string, layout) {
		return fmt.Sprintf("🚨 DEAD LETTER: Action failed for %s — Immediate action required", f.Or("firstName", "Unknown")),
			layout{
				color:   "#dc2626",
				heading: "Dead Letter Alert — Action Failed",
				intro:   "An automated action has failed after all retry attempts:",
				rows: []row{
					{label: "Customer", value: name(f)},
					{label: "Phone", value: f.Or("phone", "N/A")},
					{label: "Failed Action", value: f.Or("failedAction", "Unknown")},
					{label: "Event", value: f.Or("eventId", "N/A")},
					{label: "Attempts", value: f.Or("attemptCount", "N/A")},
					{label: "Last Error", value: f.Or("lastError", "N/A")},
				},
				footer:   "This lead may not have received their initial contact. Manual follow-up required immediately.",
				urgentFt: true,
			}
	},
	TypeStaleQuote: func(f Fields) (string, layout) {
		return fmt.Sprintf("📋 Stale Quote: %s — $%s quote sitting 48+ hours", f.Or("firstName", "Unknown"), f.Or("estimatedPrice", "?")),
			layout{
				color:   "#f59e0b",
				heading: "Stale Quote Follow-Up Needed",
				intro:   "This quote has been sitting for 48+ hours without movement:",
				rows: []row{
					{label: "Customer", value: name(f)},
					{label: "Phone", value: f.Or("phone", "N/A"), tel: true},
					{label: "Quote Value", value: "$" + f.Or("estimatedPrice", "Unknown")},
					{label: "Material", value: f.Or("selectedMaterial", "Unknown")},
				},
				footer: "Call them to close the deal.",
			}
	},
}

func name(f Fields) string {
	return strings.TrimSpace(f.Get("firstName") + " " + f.Get("lastName"))
}

// Render produces the email for a payload: a dedicated template when the
// type has one, the caller's subject and body when both are set, and a JSON
// dump of the payload otherwise.
func Render(ctx context.Context, brand string, f Fields) (Message, error) {
	typ := f.Get("type")

	var (
		subject string
		comp    templ.Component
	)
	if tmpl, ok := templates[typ]; ok {
		var l layout
		subject, l = tmpl(f)
		comp = alertEmail(l)
	} else if f.Get("subject") != "" && f.Get("body") != "" {
		subject = f.Get("subject")
		comp = templ.Raw(f.Get("body"))
	} else {
		subject = fmt.Sprintf("%s Alert: %s", brand, typ)
		comp = payloadDump(f)
	}

	var buf bytes.Buffer
	if err := comp.Render(ctx, &buf); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", typ, err)
	}
	return Message{Subject: subject, HTML: buf.String()}, nil
}

const cellStyle = `padding: 8px; border-bottom: 1px solid #e5e7eb;`

func alertEmail(l layout) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div style="font-family: Arial, sans-serif; max-width: 600px;">`)
		fmt.Fprintf(&b, `<h2 style="color: %s;">%s</h2>`, l.color, templ.EscapeString(l.heading))
		fmt.Fprintf(&b, `<p>%s</p>`, templ.EscapeString(l.intro))
		b.WriteString(`<table style="width: 100%; border-collapse: collapse; margin: 16px 0;">`)
		for _, r := range l.rows {
			value := templ.EscapeString(r.value)
			if r.tel && r.value != "N/A" {
				value = fmt.Sprintf(`<a href="tel:%s">%s</a>`, templ.EscapeString(r.value), value)
			}
			fmt.Fprintf(&b, `<tr><td style="%s font-weight: bold;">%s</td><td style="%s">%s</td></tr>`,
				cellStyle, templ.EscapeString(r.label), cellStyle, value)
		}
		b.WriteString(`</table>`)
		if l.urgentFt {
			fmt.Fprintf(&b, `<p style="color: %s; font-weight: bold;">%s</p>`, l.color, templ.EscapeString(l.footer))
		} else {
			fmt.Fprintf(&b, `<p>%s</p>`, templ.EscapeString(l.footer))
		}
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func payloadDump(f Fields) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		raw, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<pre>"+templ.EscapeString(string(raw))+"</pre>")
		return err
	})
}
