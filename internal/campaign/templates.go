package campaign

import (
	"fmt"
	"os"

	"github.com/makerloom/stitchpress/internal/config"
)

// DefaultHTMLTemplate is the announcement body used when no template file
// is configured. Placeholders follow the Liquid syntax the renderer expects.
const DefaultHTMLTemplate = `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background-color:#faf7f2;font-family:Georgia,serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:32px 16px;">
      <table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border:1px solid #e8e0d4;">
        <tr><td style="padding:32px 40px 8px;">
          <p style="font-size:16px;color:#4a4038;">Hi {{ first_name | default: "Friend" }},</p>
          <p style="font-size:16px;color:#4a4038;">A new cross-stitch design just landed in the shop:</p>
          <p style="font-size:22px;color:#2e2720;margin:24px 0;"><strong>{{ title }}</strong></p>
        </td></tr>
        <tr><td align="center" style="padding:8px 40px 32px;">
          <a href="{{ design_url }}" style="display:inline-block;background:#7c5cbf;color:#ffffff;text-decoration:none;padding:12px 28px;font-size:16px;">View the pattern</a>
        </td></tr>
        <tr><td style="padding:0 40px 32px;">
          <p style="font-size:13px;color:#8a7f72;">You are receiving this because you subscribed to new design announcements.
          <a href="{{ unsubscribe_url }}" style="color:#8a7f72;">Unsubscribe</a></p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>
`

// DefaultTextTemplate is the plain-text alternative paired with the default
// HTML body.
const DefaultTextTemplate = `Hi {{ first_name | default: "Friend" }},

A new cross-stitch design just landed in the shop: {{ title }}

View the pattern: {{ design_url }}

You are receiving this because you subscribed to new design announcements.
Unsubscribe: {{ unsubscribe_url }}
`

// LoadContent assembles the campaign content for a design announcement. A
// configured template file replaces the built-in HTML body (and drops the
// built-in text alternative, since it would no longer match).
func LoadContent(cfg config.CampaignConfig, title, designURL, editionID string) (Content, error) {
	content := Content{
		Subject:   cfg.SubjectTemplate,
		HTMLBody:  DefaultHTMLTemplate,
		TextBody:  DefaultTextTemplate,
		Title:     title,
		DesignURL: designURL,
		EditionID: editionID,
	}

	if cfg.TemplatePath != "" {
		data, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return Content{}, fmt.Errorf("reading campaign template: %w", err)
		}
		content.HTMLBody = string(data)
		content.TextBody = ""
	}
	return content, nil
}
