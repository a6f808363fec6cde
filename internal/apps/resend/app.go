// Package resend wraps the Resend email API: emails, domains, API keys, audiences,
// contacts and broadcasts.
package resend

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name           = "resend"
	defaultBaseURL = "https://api.resend.com"

	// MaxBatchEmails is the largest batch Resend accepts in one request.
	MaxBatchEmails = 100
)

// App is the Resend application.
type App struct {
	application.Base
}

// Email is the payload for a single message.
type Email struct {
	From        string   `json:"from" validate:"required,mailbox" jsonschema:"sender, e.g. 'Team <team@example.com>'"`
	To          []string `json:"to" validate:"required,min=1,max=50,dive,mailbox" jsonschema:"recipient addresses, bare or 'Name <addr>'"`
	Subject     string   `json:"subject" validate:"required" jsonschema:"subject line"`
	Text        string   `json:"text,omitempty" jsonschema:"plain text body"`
	HTML        string   `json:"html,omitempty" jsonschema:"HTML body"`
	Cc          []string `json:"cc,omitempty" validate:"omitempty,dive,mailbox" jsonschema:"cc addresses"`
	Bcc         []string `json:"bcc,omitempty" validate:"omitempty,dive,mailbox" jsonschema:"bcc addresses"`
	ReplyTo     []string `json:"reply_to,omitempty" validate:"omitempty,dive,mailbox" jsonschema:"reply-to addresses"`
	ScheduledAt string   `json:"scheduled_at,omitempty" jsonschema:"ISO 8601 time or natural language such as 'in 1 hour'"`
}

type sendEmailInput struct {
	From           string   `json:"from" validate:"required,mailbox" jsonschema:"sender, e.g. 'Team <team@example.com>'"`
	To             []string `json:"to" validate:"required,min=1,max=50,dive,mailbox" jsonschema:"recipient addresses, bare or 'Name <addr>'"`
	Subject        string   `json:"subject" validate:"required" jsonschema:"subject line"`
	Text           string   `json:"text,omitempty" jsonschema:"plain text body; text or html is required"`
	HTML           string   `json:"html,omitempty" jsonschema:"HTML body"`
	Cc             []string `json:"cc,omitempty" validate:"omitempty,dive,mailbox" jsonschema:"cc addresses"`
	Bcc            []string `json:"bcc,omitempty" validate:"omitempty,dive,mailbox" jsonschema:"bcc addresses"`
	ReplyTo        []string `json:"reply_to,omitempty" validate:"omitempty,dive,mailbox" jsonschema:"reply-to addresses"`
	ScheduledAt    string   `json:"scheduled_at,omitempty" jsonschema:"ISO 8601 time or natural language such as 'in 1 hour'"`
	IdempotencyKey string   `json:"idempotency_key,omitempty" jsonschema:"deduplication key"`
}

type sendBatchInput struct {
	Emails         []Email `json:"emails" validate:"dive" jsonschema:"between 1 and 100 emails"`
	IdempotencyKey string  `json:"idempotency_key,omitempty" jsonschema:"deduplication key; generated when empty"`
}

type emailIDInput struct {
	EmailID string `json:"email_id" validate:"required" jsonschema:"email ID"`
}

type updateEmailInput struct {
	EmailID     string `json:"email_id" validate:"required" jsonschema:"email ID"`
	ScheduledAt string `json:"scheduled_at" validate:"required" jsonschema:"new send time"`
}

type emptyInput struct{}

type createDomainInput struct {
	Name   string `json:"name" validate:"required,fqdn" jsonschema:"domain name"`
	Region string `json:"region,omitempty" validate:"omitempty,oneof=us-east-1 eu-west-1 sa-east-1 ap-northeast-1" jsonschema:"sending region"`
}

type domainIDInput struct {
	DomainID string `json:"domain_id" validate:"required" jsonschema:"domain ID"`
}

type createAPIKeyInput struct {
	Name       string `json:"name" validate:"required,max=50" jsonschema:"key name"`
	Permission string `json:"permission,omitempty" validate:"omitempty,oneof=full_access sending_access" jsonschema:"key permission"`
	DomainID   string `json:"domain_id,omitempty" jsonschema:"restrict a sending key to one domain"`
}

type apiKeyIDInput struct {
	APIKeyID string `json:"api_key_id" validate:"required" jsonschema:"API key ID"`
}

type createAudienceInput struct {
	Name string `json:"name" validate:"required" jsonschema:"audience name"`
}

type audienceIDInput struct {
	AudienceID string `json:"audience_id" validate:"required" jsonschema:"audience ID"`
}

type createContactInput struct {
	AudienceID   string `json:"audience_id" validate:"required" jsonschema:"audience ID"`
	Email        string `json:"email" validate:"required,email" jsonschema:"contact address"`
	FirstName    string `json:"first_name,omitempty" jsonschema:"first name"`
	LastName     string `json:"last_name,omitempty" jsonschema:"last name"`
	Unsubscribed bool   `json:"unsubscribed,omitempty" jsonschema:"subscription status"`
}

type contactRefInput struct {
	AudienceID string `json:"audience_id" validate:"required" jsonschema:"audience ID"`
	ContactID  string `json:"contact_id,omitempty" jsonschema:"contact ID; exactly one of contact_id or email"`
	Email      string `json:"email,omitempty" validate:"omitempty,email" jsonschema:"contact address; exactly one of contact_id or email"`
}

type updateContactInput struct {
	AudienceID   string  `json:"audience_id" validate:"required" jsonschema:"audience ID"`
	ContactID    string  `json:"contact_id,omitempty" jsonschema:"contact ID; exactly one of contact_id or email"`
	Email        string  `json:"email,omitempty" validate:"omitempty,email" jsonschema:"contact address; exactly one of contact_id or email"`
	FirstName    *string `json:"first_name,omitempty" jsonschema:"new first name"`
	LastName     *string `json:"last_name,omitempty" jsonschema:"new last name"`
	Unsubscribed *bool   `json:"unsubscribed,omitempty" jsonschema:"new subscription status"`
}

type createBroadcastInput struct {
	AudienceID string `json:"audience_id" validate:"required" jsonschema:"audience to send to"`
	From       string `json:"from" validate:"required,mailbox" jsonschema:"sender"`
	Subject    string `json:"subject" validate:"required" jsonschema:"subject line"`
	HTML       string `json:"html,omitempty" jsonschema:"HTML body"`
	Text       string `json:"text,omitempty" jsonschema:"plain text body"`
	Name       string `json:"name,omitempty" jsonschema:"internal broadcast name"`
	ReplyTo    string `json:"reply_to,omitempty" jsonschema:"reply-to address"`
}

type sendBroadcastInput struct {
	BroadcastID string `json:"broadcast_id" validate:"required" jsonschema:"broadcast ID"`
	ScheduledAt string `json:"scheduled_at,omitempty" jsonschema:"send time; immediately when empty"`
}

// New creates the application.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{Base: application.NewBase(Name, integration)}
	a.InitClient(defaultBaseURL, append([]application.ClientOption{application.WithAuth(a.BearerAuth())}, opts...)...)
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("send_email", "Sends one email to a list of recipients.",
			a.sendEmail, application.Important(), application.WithTags("send", "email")),
		application.NewTool("send_batch_emails", "Sends between 1 and 100 distinct emails in one request.",
			a.sendBatchEmails, application.WithTags("send", "email", "batch")),
		application.NewTool("get_email", "Retrieves a sent or scheduled email.",
			func(ctx context.Context, in emailIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodGet, "emails/"+application.PathEscape(in.EmailID), nil)
			}, application.ReadOnly(), application.WithTags("email")),
		application.NewTool("update_email", "Reschedules a scheduled email.",
			func(ctx context.Context, in updateEmailInput) (interface{}, error) {
				return a.call(ctx, http.MethodPatch, "emails/"+application.PathEscape(in.EmailID), map[string]string{"scheduled_at": in.ScheduledAt})
			}, application.WithTags("email", "schedule")),
		application.NewTool("cancel_email", "Cancels a scheduled email.",
			func(ctx context.Context, in emailIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodPost, "emails/"+application.PathEscape(in.EmailID)+"/cancel", nil)
			}, application.Destructive(), application.WithTags("email", "schedule")),

		application.NewTool("list_domains", "Lists sending domains.",
			func(ctx context.Context, _ emptyInput) (interface{}, error) {
				return a.call(ctx, http.MethodGet, "domains", nil)
			}, application.ReadOnly(), application.WithTags("domain")),
		application.NewTool("create_domain", "Registers a sending domain and returns the DNS records to configure.",
			func(ctx context.Context, in createDomainInput) (interface{}, error) {
				return a.call(ctx, http.MethodPost, "domains", in)
			}, application.WithTags("domain")),
		application.NewTool("get_domain", "Retrieves a domain and its verification status.",
			func(ctx context.Context, in domainIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodGet, "domains/"+application.PathEscape(in.DomainID), nil)
			}, application.ReadOnly(), application.WithTags("domain")),
		application.NewTool("verify_domain", "Triggers DNS verification for a domain.",
			func(ctx context.Context, in domainIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodPost, "domains/"+application.PathEscape(in.DomainID)+"/verify", nil)
			}, application.WithTags("domain")),
		application.NewTool("delete_domain", "Removes a domain.",
			func(ctx context.Context, in domainIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodDelete, "domains/"+application.PathEscape(in.DomainID), nil)
			}, application.Destructive(), application.WithTags("domain")),

		application.NewTool("list_api_keys", "Lists API keys.",
			func(ctx context.Context, _ emptyInput) (interface{}, error) {
				return a.call(ctx, http.MethodGet, "api-keys", nil)
			}, application.ReadOnly(), application.WithTags("api_key")),
		application.NewTool("create_api_key", "Creates an API key. The token is only returned once.",
			func(ctx context.Context, in createAPIKeyInput) (interface{}, error) {
				return a.call(ctx, http.MethodPost, "api-keys", in)
			}, application.WithTags("api_key")),
		application.NewTool("delete_api_key", "Revokes an API key.",
			func(ctx context.Context, in apiKeyIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodDelete, "api-keys/"+application.PathEscape(in.APIKeyID), nil)
			}, application.Destructive(), application.WithTags("api_key")),

		application.NewTool("list_audiences", "Lists audiences.",
			func(ctx context.Context, _ emptyInput) (interface{}, error) {
				return a.call(ctx, http.MethodGet, "audiences", nil)
			}, application.ReadOnly(), application.WithTags("audience")),
		application.NewTool("create_audience", "Creates an audience.",
			func(ctx context.Context, in createAudienceInput) (interface{}, error) {
				return a.call(ctx, http.MethodPost, "audiences", in)
			}, application.WithTags("audience")),
		application.NewTool("delete_audience", "Removes an audience and its contacts.",
			func(ctx context.Context, in audienceIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodDelete, "audiences/"+application.PathEscape(in.AudienceID), nil)
			}, application.Destructive(), application.WithTags("audience")),

		application.NewTool("list_contacts", "Lists the contacts of an audience.",
			func(ctx context.Context, in audienceIDInput) (interface{}, error) {
				return a.call(ctx, http.MethodGet, contactsPath(in.AudienceID), nil)
			}, application.ReadOnly(), application.WithTags("contact")),
		application.NewTool("create_contact", "Adds a contact to an audience.",
			func(ctx context.Context, in createContactInput) (interface{}, error) {
				body := application.Compact(map[string]interface{}{
					"email":        in.Email,
					"first_name":   in.FirstName,
					"last_name":    in.LastName,
					"unsubscribed": in.Unsubscribed,
				})
				return a.call(ctx, http.MethodPost, contactsPath(in.AudienceID), body)
			}, application.Important(), application.WithTags("contact")),
		application.NewTool("update_contact", "Updates a contact identified by contact_id or email.",
			a.updateContact, application.WithTags("contact")),
		application.NewTool("delete_contact", "Removes a contact identified by contact_id or email.",
			func(ctx context.Context, in contactRefInput) (interface{}, error) {
				id, err := contactKey(in.ContactID, in.Email)
				if err != nil {
					return nil, err
				}
				return a.call(ctx, http.MethodDelete, contactsPath(in.AudienceID)+"/"+application.PathEscape(id), nil)
			}, application.Destructive(), application.WithTags("contact")),

		application.NewTool("create_broadcast", "Creates a draft broadcast for an audience.",
			func(ctx context.Context, in createBroadcastInput) (interface{}, error) {
				return a.call(ctx, http.MethodPost, "broadcasts", application.Compact(map[string]interface{}{
					"audience_id": in.AudienceID,
					"from":        in.From,
					"subject":     in.Subject,
					"html":        in.HTML,
					"text":        in.Text,
					"name":        in.Name,
					"reply_to":    in.ReplyTo,
				}))
			}, application.WithTags("broadcast")),
		application.NewTool("send_broadcast", "Sends or schedules a draft broadcast.",
			func(ctx context.Context, in sendBroadcastInput) (interface{}, error) {
				return a.call(ctx, http.MethodPost, "broadcasts/"+application.PathEscape(in.BroadcastID)+"/send",
					application.Compact(map[string]interface{}{"scheduled_at": in.ScheduledAt}))
			}, application.WithTags("broadcast", "send")),
	}
}

func (a *App) sendEmail(ctx context.Context, in sendEmailInput) (interface{}, error) {
	if in.Text == "" && in.HTML == "" {
		return nil, application.MissingParams("text")
	}
	header := http.Header{}
	if in.IdempotencyKey != "" {
		header.Set("Idempotency-Key", in.IdempotencyKey)
	}
	email := Email{
		From:        in.From,
		To:          in.To,
		Subject:     in.Subject,
		Text:        in.Text,
		HTML:        in.HTML,
		Cc:          in.Cc,
		Bcc:         in.Bcc,
		ReplyTo:     in.ReplyTo,
		ScheduledAt: in.ScheduledAt,
	}
	resp, err := a.Client().DoWithHeaders(ctx, http.MethodPost, "emails", nil, email, header)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}

func (a *App) sendBatchEmails(ctx context.Context, in sendBatchInput) (interface{}, error) {
	if len(in.Emails) < 1 || len(in.Emails) > MaxBatchEmails {
		return nil, application.Invalid("emails", "The number of emails in a batch must be between 1 and 100")
	}
	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	header := http.Header{}
	header.Set("Idempotency-Key", key)

	resp, err := a.Client().DoWithHeaders(ctx, http.MethodPost, "emails/batch", nil, in.Emails, header)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}

func (a *App) updateContact(ctx context.Context, in updateContactInput) (interface{}, error) {
	id, err := contactKey(in.ContactID, in.Email)
	if err != nil {
		return nil, err
	}
	body := application.Compact(map[string]interface{}{
		"first_name":   in.FirstName,
		"last_name":    in.LastName,
		"unsubscribed": in.Unsubscribed,
	})
	if len(body) == 0 {
		return nil, application.Invalid("first_name", "at least one field to update must be provided")
	}
	return a.call(ctx, http.MethodPatch, contactsPath(in.AudienceID)+"/"+application.PathEscape(id), body)
}

func (a *App) call(ctx context.Context, method, path string, body interface{}) (interface{}, error) {
	resp, err := a.Client().Do(ctx, method, path, nil, body)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}

func contactsPath(audienceID string) string {
	return "audiences/" + application.PathEscape(audienceID) + "/contacts"
}

// contactKey returns the path key for a contact; Resend accepts either the ID or the address.
func contactKey(id, email string) (string, error) {
	switch {
	case id != "" && email != "":
		return "", application.Invalid("contact_id", "provide exactly one of contact_id or email")
	case id != "":
		return id, nil
	case email != "":
		return email, nil
	default:
		return "", application.MissingParams("contact_id")
	}
}
