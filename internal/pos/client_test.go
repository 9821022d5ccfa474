package pos

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/expeditehq/expedite/internal/ticket"
	"github.com/expeditehq/expedite/pkg/enums/ordersource"
)

func TestParseOrder(t *testing.T) {
	valid := `{
		"id": "ord-1",
		"location_id": "loc-1",
		"state": "OPEN",
		"line_items": [{"name": "burger", "quantity": 2, "note": "no onion"}],
		"created_at": "2026-08-29T12:00:00Z",
		"updated_at": "2026-08-29T12:05:00Z"
	}`

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{name: "valid order", payload: valid},
		{name: "malformed json", payload: `{"id":`, wantErr: "order"},
		{name: "missing id", payload: `{"location_id":"loc-1","state":"OPEN"}`, wantErr: "order.id"},
		{name: "missing location", payload: `{"id":"ord-1","state":"OPEN"}`, wantErr: "order.location_id"},
		{name: "unknown state", payload: `{"id":"ord-1","location_id":"loc-1","state":"SHIPPED"}`, wantErr: "order.state"},
		{name: "unknown source", payload: `{"id":"ord-1","location_id":"loc-1","state":"OPEN","source":"fax"}`, wantErr: "order.source"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			order, err := ParseOrder([]byte(tc.payload))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if order.ID != "ord-1" || len(order.LineItems) != 1 {
					t.Fatalf("parsed order = %+v", order)
				}
				return
			}

			var verr *ticket.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want ValidationError", err)
			}
			if verr.Field != tc.wantErr {
				t.Errorf("field = %q, want %q", verr.Field, tc.wantErr)
			}
		})
	}
}

func TestParseOrderDefaultsSource(t *testing.T) {
	order, err := ParseOrder([]byte(`{"id":"ord-1","location_id":"loc-1","state":"OPEN"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Source != ordersource.Sources.POSTerminal.Code() {
		t.Fatalf("source = %q, want pos_terminal default", order.Source)
	}
}

func TestMirrorPatchOmitsAbsentFields(t *testing.T) {
	order := &Order{
		ID:         "ord-1",
		LocationID: "loc-1",
		State:      ticket.MirrorStateOpen,
		Source:     ordersource.Sources.Online.Code(),
		CreatedAt:  time.Now().Add(-time.Hour),
		UpdatedAt:  time.Now(),
	}

	patch := order.MirrorPatch()
	if patch.ReferenceID != nil {
		t.Error("empty reference produced a patch field")
	}
	if patch.LineItems != nil || patch.Metadata != nil {
		t.Error("absent collections produced patch fields")
	}
	if patch.State == nil || *patch.State != ticket.MirrorStateOpen {
		t.Error("state not carried into patch")
	}
}

func TestMirrorPatchCarriesSuppliedFields(t *testing.T) {
	order := &Order{
		ID:          "ord-1",
		LocationID:  "loc-1",
		State:       ticket.MirrorStateCompleted,
		Source:      ordersource.Sources.POSTerminal.Code(),
		ReferenceID: "check-42",
		LineItems:   []LineItem{{Name: "soup", Quantity: 1}},
		Metadata:    map[string]string{"table": "7"},
	}

	patch := order.MirrorPatch()
	if patch.ReferenceID == nil || *patch.ReferenceID != "check-42" {
		t.Error("reference not carried into patch")
	}
	if len(patch.LineItems) != 1 || patch.LineItems[0].Name != "soup" {
		t.Errorf("line items = %+v", patch.LineItems)
	}
	if patch.Metadata["table"] != "7" {
		t.Error("metadata not carried into patch")
	}
}

func TestHTTPClientListOrderIDs(t *testing.T) {
	var gotPath, gotAuth, gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotSince = r.URL.Query().Get("updated_since")
		w.Write([]byte(`{"order_ids":["ord-1","ord-2"]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "secret-token")
	since := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	ids, err := client.ListOrderIDsUpdatedSince(context.Background(), "loc-1", since)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "ord-1" {
		t.Fatalf("ids = %v", ids)
	}
	if gotPath != "/v1/locations/loc-1/orders" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotSince != "2026-08-29T12:00:00Z" {
		t.Errorf("updated_since = %q", gotSince)
	}
}

func TestHTTPClientFetchOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders/ord-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"id":"ord-1","location_id":"loc-1","state":"OPEN"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "")

	order, err := client.FetchOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if order.ID != "ord-1" || order.State != ticket.MirrorStateOpen {
		t.Fatalf("order = %+v", order)
	}
}

func TestHTTPClientSurfacesTransientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "")

	if _, err := client.FetchOrder(context.Background(), "ord-1"); err == nil {
		t.Fatal("5xx did not surface an error")
	} else {
		var transient *ticket.TransientIntegrationError
		if !errors.As(err, &transient) {
			t.Fatalf("error type = %T, want TransientIntegrationError", err)
		}
	}

	if _, err := client.ListOrderIDsUpdatedSince(context.Background(), "loc-1", time.Now()); err == nil {
		t.Fatal("5xx did not surface a list error")
	}
}
