package email

import (
	"fmt"
	"html"
	"time"
)

// BuildAlertHTML renders the HTML body for an alert notification email.
func BuildAlertHTML(monitorName, message string, ts time.Time) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, Arial, sans-serif; color: #1a1a2e; margin: 0; padding: 24px;">
  <div style="max-width: 560px; margin: 0 auto; border: 1px solid #e2e2e8; border-radius: 8px; overflow: hidden;">
    <div style="background: #e63946; color: #ffffff; padding: 16px 24px;">
      <h2 style="margin: 0; font-size: 18px;">&#9888; Monitor Alert</h2>
    </div>
    <div style="padding: 24px;">
      <p style="margin: 0 0 8px;"><strong>Monitor:</strong> %s</p>
      <p style="margin: 0 0 16px;">%s</p>
      <p style="margin: 0; color: #6b7280; font-size: 13px;">Triggered at %s</p>
    </div>
  </div>
</body>
</html>`,
		html.EscapeString(monitorName),
		html.EscapeString(message),
		ts.UTC().Format(time.RFC1123),
	)
}
