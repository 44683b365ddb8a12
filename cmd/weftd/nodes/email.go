package nodes

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wneessen/go-mail"

	"github.com/weftworks/weft/common/sdk"
)

// emailSendNode delivers mail over SMTP. Connection settings come from a
// credential (host, port, username, password, from), never from node config,
// and none of those fields appear in outputs or error messages.
type emailSendNode struct{}

func (n *emailSendNode) InputPorts() []sdk.Port {
	return universalPort("input", false)
}

func (n *emailSendNode) OutputPorts() []sdk.Port {
	return universalPort("output", false)
}

func (n *emailSendNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"credential_id": prop("integer", "SMTP credential with host, port, username, password, from"),
		"to":            prop("array", "recipient addresses"),
		"subject":       prop("string", "message subject"),
		"body":          prop("string", "plain text body"),
		"html":          prop("string", "optional HTML alternative body"),
	}, "credential_id", "to", "subject")
}

func (n *emailSendNode) Execute(ctx context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	credID := intOr(in.Config, "credential_id", 0)
	if credID == 0 {
		return nil, fmt.Errorf("credential_id is required")
	}
	cred, ok := in.Credentials[credID]
	if !ok {
		return nil, fmt.Errorf("credential %d was not resolved", credID)
	}
	host := cred["host"]
	if host == "" {
		return nil, fmt.Errorf("credential %d has no SMTP host", credID)
	}
	port := 587
	if p := cred["port"]; p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("credential %d has an invalid SMTP port", credID)
		}
		port = parsed
	}
	from := cred["from"]
	if from == "" {
		from = cred["username"]
	}
	if from == "" {
		return nil, fmt.Errorf("credential %d has no sender address", credID)
	}

	recipients := n.recipients(in.Config)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	subject := stringOr(in.Config, "subject", "")
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	body := stringOr(in.Config, "body", "")
	if body == "" {
		// Fall back to the input port so upstream nodes can compose the body.
		if s, ok := in.Ports["input"].(string); ok {
			body = s
		}
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	if html := stringOr(in.Config, "html", ""); html != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, html)
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if user := cred["username"]; user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(user),
			mail.WithPassword(cred["password"]),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to configure SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send mail: %w", err)
	}

	return map[string]any{
		"output":     fmt.Sprintf("sent to %d recipients", len(recipients)),
		"recipients": len(recipients),
		"subject":    subject,
	}, nil
}

// recipients accepts a list of addresses or a single address string.
func (n *emailSendNode) recipients(cfg map[string]any) []string {
	var out []string
	switch v := cfg["to"].(type) {
	case string:
		if v != "" {
			out = append(out, v)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}
