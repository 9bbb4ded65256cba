package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// ZendeskClient posts replies as public ticket comments.
type ZendeskClient struct {
	baseURL string
	email   string
	token   string
	http    *http.Client
}

// NewZendeskClient creates a client for the Zendesk instance at baseURL,
// authenticating with an agent email and API token.
func NewZendeskClient(baseURL, email, token string, timeout time.Duration) *ZendeskClient {
	return &ZendeskClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type zendeskUpdate struct {
	Ticket struct {
		Comment struct {
			Body   string `json:"body"`
			Public bool   `json:"public"`
		} `json:"comment"`
	} `json:"ticket"`
}

// AddComment appends a public comment to a ticket.
func (z *ZendeskClient) AddComment(ctx context.Context, ticketID int64, body string) error {
	var payload zendeskUpdate
	payload.Ticket.Comment.Body = body
	payload.Ticket.Comment.Public = true
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v2/tickets/%d.json", z.baseURL, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(z.email+"/token", z.token)

	_, err = do(z.http, req)
	return err
}

// Send implements Sender.
func (z *ZendeskClient) Send(ctx context.Context, target domain.ReplyTarget, text string) error {
	if target.TicketID <= 0 {
		return &apiError{Reason: "missing ticket id"}
	}
	return z.AddComment(ctx, target.TicketID, text)
}
