// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// InvitationEmailData holds data for invitation email templates.
type InvitationEmailData struct {
	SiteName     string
	WorkshopName string
	InviterName  string
	AcceptLink   string
	ExpiresIn    string // e.g., "7 days"
}

// BuildInvitationEmail creates an invitation email with both HTML and text
// bodies.
func BuildInvitationEmail(data InvitationEmailData) Email {
	return Email{
		To:       "", // Set by caller
		Subject:  fmt.Sprintf("You're invited to join %s on %s", data.WorkshopName, data.SiteName),
		TextBody: buildInvitationText(data),
		HTMLBody: buildInvitationHTML(data),
	}
}

func buildInvitationText(data InvitationEmailData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%s has invited you to join the workshop %q on %s.\n\n", data.InviterName, data.WorkshopName, data.SiteName))
	buf.WriteString("Click this link to accept the invitation:\n")
	buf.WriteString(data.AcceptLink + "\n\n")
	buf.WriteString(fmt.Sprintf("This invitation expires in %s.\n\n", data.ExpiresIn))
	buf.WriteString("If you were not expecting this invitation, you can safely ignore this email.\n")
	return buf.String()
}

func buildInvitationHTML(data InvitationEmailData) string {
	tmpl := template.Must(template.New("invitation").Parse(invitationHTMLTemplate))
	var buf bytes.Buffer
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}

// ApprovalEmailData holds data for membership approval emails.
type ApprovalEmailData struct {
	SiteName     string
	WorkshopName string
	WorkshopLink string
}

// BuildApprovalEmail creates the email sent when a join request is
// approved. Text body only; approval is a short informational note.
func BuildApprovalEmail(data ApprovalEmailData) Email {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Your request to join %q on %s has been approved.\n\n", data.WorkshopName, data.SiteName))
	if data.WorkshopLink != "" {
		buf.WriteString("Open the workshop:\n" + data.WorkshopLink + "\n")
	}
	return Email{
		Subject:  fmt.Sprintf("Welcome to %s", data.WorkshopName),
		TextBody: buf.String(),
	}
}

// RoleChangeEmailData holds data for role assignment/removal emails.
type RoleChangeEmailData struct {
	SiteName     string
	WorkshopName string
	RoleName     string
	Assigned     bool
}

// BuildRoleChangeEmail creates the email sent on a role change.
func BuildRoleChangeEmail(data RoleChangeEmailData) Email {
	verb := "removed from"
	if data.Assigned {
		verb = "assigned"
	}
	var buf bytes.Buffer
	if data.Assigned {
		buf.WriteString(fmt.Sprintf("You have been assigned the role %q in %q on %s.\n", data.RoleName, data.WorkshopName, data.SiteName))
	} else {
		buf.WriteString(fmt.Sprintf("The role %q has been removed from you in %q on %s.\n", data.RoleName, data.WorkshopName, data.SiteName))
	}
	return Email{
		Subject:  fmt.Sprintf("Role %s: %s", verb, data.RoleName),
		TextBody: buf.String(),
	}
}

const invitationHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Workshop Invitation</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 4px rgba(0, 0, 0, 0.1);">
          <!-- Header -->
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #4f46e5;">{{.SiteName}}</h1>
            </td>
          </tr>

          <!-- Content -->
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 24px; font-size: 16px; color: #374151; line-height: 1.5;">
                <strong>{{.InviterName}}</strong> has invited you to join the workshop
                <strong>{{.WorkshopName}}</strong>.
              </p>

              <!-- Button -->
              <div style="text-align: center; margin-bottom: 24px;">
                <a href="{{.AcceptLink}}" style="display: inline-block; background-color: #4f46e5; color: #ffffff; font-size: 16px; font-weight: 600; text-decoration: none; padding: 12px 32px; border-radius: 6px;">Accept Invitation</a>
              </div>

              <p style="margin: 0; font-size: 14px; color: #6b7280; text-align: center;">
                This invitation expires in {{.ExpiresIn}}. If you were not
                expecting it, you can safely ignore this email.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
