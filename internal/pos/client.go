package pos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/expeditehq/expedite/internal/ticket"
	"github.com/expeditehq/expedite/pkg/enums/ordersource"
)

// Client is the external point-of-sale feed collaborator. Vendor quirks stay
// behind this interface; the core only ever needs these two calls.
type Client interface {
	ListOrderIDsUpdatedSince(ctx context.Context, locationID string, since time.Time) ([]string, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
}

// Order is the validated, strictly-typed form of a remote order payload.
// Raw feed JSON never crosses into the core: ParseOrder rejects malformed
// payloads at this boundary.
type Order struct {
	ID          string            `json:"id"`
	LocationID  string            `json:"location_id"`
	State       string            `json:"state"`
	Source      string            `json:"source,omitempty"`
	ReferenceID string            `json:"reference_id,omitempty"`
	LineItems   []LineItem        `json:"line_items,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// ParseOrder validates a raw feed payload into an Order. Unknown states and
// missing identifiers are rejected here, not deep inside the core. A missing
// source defaults to the POS terminal channel, the vendor's walk-in default.
func ParseOrder(data []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, &ticket.ValidationError{Field: "order", Reason: fmt.Sprintf("malformed payload: %v", err)}
	}
	if o.ID == "" {
		return nil, &ticket.ValidationError{Field: "order.id", Reason: "must not be empty"}
	}
	if o.LocationID == "" {
		return nil, &ticket.ValidationError{Field: "order.location_id", Reason: "must not be empty"}
	}
	switch o.State {
	case ticket.MirrorStateOpen, ticket.MirrorStateCompleted, ticket.MirrorStateCanceled:
	default:
		return nil, &ticket.ValidationError{Field: "order.state", Reason: fmt.Sprintf("unrecognized value %q", o.State)}
	}
	if o.Source == "" {
		o.Source = ordersource.Sources.POSTerminal.Code()
	}
	if ordersource.ByName(o.Source) == nil {
		return nil, &ticket.ValidationError{Field: "order.source", Reason: fmt.Sprintf("unrecognized value %q", o.Source)}
	}
	return &o, nil
}

// MirrorPatch maps the order onto the supplied-fields-only upsert shape.
func (o *Order) MirrorPatch() ticket.OrderMirrorPatch {
	locationID := o.LocationID
	state := o.State
	source := o.Source
	createdAt := o.CreatedAt

	patch := ticket.OrderMirrorPatch{
		ExternalOrderID: o.ID,
		LocationID:      &locationID,
		State:           &state,
		Source:          &source,
		CreatedAt:       &createdAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.ReferenceID != "" {
		ref := o.ReferenceID
		patch.ReferenceID = &ref
	}
	if o.LineItems != nil {
		items := make([]ticket.LineItem, 0, len(o.LineItems))
		for _, li := range o.LineItems {
			items = append(items, ticket.LineItem{Name: li.Name, Quantity: li.Quantity, Note: li.Note})
		}
		patch.LineItems = items
	}
	if o.Metadata != nil {
		patch.Metadata = o.Metadata
	}
	return patch
}

// Mirror builds the mirror view the lifecycle operates on.
func (o *Order) Mirror() *ticket.OrderMirror {
	items := make([]ticket.LineItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, ticket.LineItem{Name: li.Name, Quantity: li.Quantity, Note: li.Note})
	}
	return &ticket.OrderMirror{
		ExternalOrderID: o.ID,
		LocationID:      o.LocationID,
		State:           o.State,
		Source:          o.Source,
		ReferenceID:     o.ReferenceID,
		LineItems:       items,
		Metadata:        o.Metadata,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// HTTPClient talks to the vendor's order feed API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *HTTPClient) ListOrderIDsUpdatedSince(ctx context.Context, locationID string, since time.Time) ([]string, error) {
	endpoint := fmt.Sprintf("%s/v1/locations/%s/orders?updated_since=%s",
		c.baseURL, url.PathEscape(locationID), url.QueryEscape(since.UTC().Format(time.RFC3339)))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, &ticket.TransientIntegrationError{Op: "list orders", Err: err}
	}

	var payload struct {
		OrderIDs []string `json:"order_ids"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ticket.TransientIntegrationError{Op: "decode order list", Err: err}
	}
	return payload.OrderIDs, nil
}

func (c *HTTPClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	endpoint := fmt.Sprintf("%s/v1/orders/%s", c.baseURL, url.PathEscape(orderID))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, &ticket.TransientIntegrationError{Op: "fetch order " + orderID, Err: err}
	}

	return ParseOrder(body)
}

func (c *HTTPClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
