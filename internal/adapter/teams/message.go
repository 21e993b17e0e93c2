// Package teams delivers finished runs to a Microsoft Teams channel, either
// through an incoming webhook or the Graph channel-messages API.
package teams

import (
	"fmt"
	"html"
	"strings"

	"github.com/Strob0t/PostForge/internal/domain/run"
)

// adaptiveCard is the subset of the Adaptive Card schema the webhook uses.
type adaptiveCard struct {
	Type    string        `json:"type"`
	Schema  string        `json:"$schema"`
	Version string        `json:"version"`
	Body    []cardElement `json:"body"`
	Actions []cardAction  `json:"actions,omitempty"`
}

type cardElement struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type cardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type webhookMessage struct {
	Type        string           `json:"type"`
	Attachments []cardAttachment `json:"attachments"`
}

type cardAttachment struct {
	ContentType string       `json:"contentType"`
	Content     adaptiveCard `json:"content"`
}

func buildCard(r run.Run) adaptiveCard {
	d := r.Draft
	card := adaptiveCard{
		Type:    "AdaptiveCard",
		Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
		Version: "1.4",
		Body: []cardElement{
			{Type: "TextBlock", Text: d.Title, Size: "Large", Weight: "Bolder", Wrap: true},
			{Type: "TextBlock", Text: d.Hook, Weight: "Bolder", Wrap: true},
			{Type: "TextBlock", Text: d.Body, Wrap: true},
		},
	}
	if len(d.PainPoints) > 0 {
		card.Body = append(card.Body, cardElement{
			Type: "TextBlock",
			Text: "- " + strings.Join(d.PainPoints, "\n- "),
			Wrap: true,
		})
	}
	if d.CTA != "" {
		card.Body = append(card.Body, cardElement{Type: "TextBlock", Text: d.CTA, Weight: "Bolder", Wrap: true})
	}
	for _, a := range r.Assets {
		switch a.Type {
		case run.AssetImage:
			if strings.HasPrefix(a.URI, "http") {
				card.Body = append(card.Body, cardElement{Type: "Image", URL: a.URI})
			}
		case run.AssetVideo:
			card.Actions = append(card.Actions, cardAction{Type: "Action.OpenUrl", Title: "Watch video", URL: a.URI})
		}
	}
	for _, c := range d.Citations {
		card.Actions = append(card.Actions, cardAction{Type: "Action.OpenUrl", Title: citationTitle(c), URL: c.URL})
	}
	return card
}

// buildHTML renders the channel message body for the Graph transport.
func buildHTML(r run.Run) string {
	d := r.Draft
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(d.Title))
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>", html.EscapeString(d.Hook))
	for _, para := range strings.Split(d.Body, "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(para))
		}
	}
	if len(d.PainPoints) > 0 {
		b.WriteString("<ul>")
		for _, p := range d.PainPoints {
			fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(p))
		}
		b.WriteString("</ul>")
	}
	if d.CTA != "" {
		fmt.Fprintf(&b, "<p><em>%s</em></p>", html.EscapeString(d.CTA))
	}
	for _, a := range r.Assets {
		if !strings.HasPrefix(a.URI, "http") {
			continue
		}
		switch a.Type {
		case run.AssetImage:
			fmt.Fprintf(&b, `<p><img src="%s" alt="post image"></p>`, html.EscapeString(a.URI))
		case run.AssetVideo:
			fmt.Fprintf(&b, `<p><a href="%s">Watch video</a></p>`, html.EscapeString(a.URI))
		}
	}
	if len(d.Citations) > 0 {
		b.WriteString("<p>Sources:</p><ul>")
		for _, c := range d.Citations {
			fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, html.EscapeString(c.URL), html.EscapeString(citationTitle(c)))
		}
		b.WriteString("</ul>")
	}
	return b.String()
}

func citationTitle(c run.Citation) string {
	if c.Title != "" {
		return c.Title
	}
	return c.URL
}
