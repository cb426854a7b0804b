//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
)

const testAPIKey = "integration-test-key"

// oneSeat is a cart snapshot for one seat in the October Go session at
// its seeded catalog price.
func oneSeat(quantity int) []checkoutItem {
	return []checkoutItem{{
		SessionID:   "sess-go-101-oct",
		FormationID: "form-go-101",
		CategoryID:  "cat-programming",
		UnitPrice:   "490.00",
		Quantity:    quantity,
	}}
}

func TestCheckout_AutoApplyDiscount(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-2",
		Items:      oneSeat(1),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	body := decodeJSON[checkoutResponse](t, resp)
	if !strings.HasPrefix(body.OrderNumber, "ORD-") {
		t.Errorf("order number: got %q, want ORD- prefix", body.OrderNumber)
	}
	if !strings.Contains(body.RedirectURL, "/payment/") {
		t.Errorf("redirect URL: got %q, want hosted payment page", body.RedirectURL)
	}

	// The seeded AUTUMN5 auto-apply code takes 5.00 off; VAT is computed
	// on the discounted amount.
	if body.Subtotal != "490.00" {
		t.Errorf("subtotal: got %q, want %q", body.Subtotal, "490.00")
	}
	if body.Discount != "5.00" {
		t.Errorf("discount: got %q, want %q", body.Discount, "5.00")
	}
	if body.Tax != "97.00" {
		t.Errorf("tax: got %q, want %q", body.Tax, "97.00")
	}
	if body.Total != "582.00" {
		t.Errorf("total: got %q, want %q", body.Total, "582.00")
	}
}

func TestCheckout_PercentagePromo(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-3",
		Items:      oneSeat(1),
		PromoCodes: []string{"WELCOME10"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// WELCOME10 is not stackable, so the auto-apply code stays out.
	body := decodeJSON[checkoutResponse](t, resp)
	if body.Discount != "49.00" {
		t.Errorf("discount: got %q, want %q", body.Discount, "49.00")
	}
	if body.Tax != "88.20" {
		t.Errorf("tax: got %q, want %q", body.Tax, "88.20")
	}
	if body.Total != "529.20" {
		t.Errorf("total: got %q, want %q", body.Total, "529.20")
	}
}

func TestCheckout_FixedPromo(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-2",
		Items:      oneSeat(1),
		PromoCodes: []string{"SUMMER25"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	body := decodeJSON[checkoutResponse](t, resp)
	if body.Discount != "25.00" {
		t.Errorf("discount: got %q, want %q", body.Discount, "25.00")
	}
	if body.Total != "558.00" {
		t.Errorf("total: got %q, want %q", body.Total, "558.00")
	}
}

func TestCheckout_StackedPromos(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-2",
		Items:      oneSeat(1),
		PromoCodes: []string{"PREMIUM15"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// PREMIUM15 takes 15% of 490.00 = 73.50; the stackable AUTUMN5
	// auto-apply code then takes 5.00 off the remaining value.
	body := decodeJSON[checkoutResponse](t, resp)
	if body.Discount != "78.50" {
		t.Errorf("discount: got %q, want %q", body.Discount, "78.50")
	}
	if body.Tax != "82.30" {
		t.Errorf("tax: got %q, want %q", body.Tax, "82.30")
	}
	if body.Total != "493.80" {
		t.Errorf("total: got %q, want %q", body.Total, "493.80")
	}
}

func TestCheckout_RoleRestrictedPromo(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-1",
		Items:      oneSeat(1),
		PromoCodes: []string{"PREMIUM15"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Reason != "role_not_eligible" {
		t.Errorf("reason: got %q, want %q", body.Reason, "role_not_eligible")
	}
}

func TestCheckout_UnknownPromo(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-2",
		Items:      oneSeat(1),
		PromoCodes: []string{"BOGUS99"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Reason != "code_not_found" {
		t.Errorf("reason: got %q, want %q", body.Reason, "code_not_found")
	}
}

func TestCheckout_EmptyItems(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-2",
		Items:      []checkoutItem{},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_MissingCustomer(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		Items: oneSeat(1),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_UnknownCustomer(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-nobody",
		Items:      oneSeat(1),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCheckout_UnknownSession(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-2",
		Items: []checkoutItem{{
			SessionID: "sess-nonexistent",
			UnitPrice: "100.00",
			Quantity:  1,
		}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCheckout_InsufficientCapacity(t *testing.T) {
	resp := doPost(t, "/api/checkout", checkoutRequest{
		CustomerID: "cust-demo-2",
		Items:      oneSeat(100),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if !strings.Contains(body.Message, "seats") {
		t.Errorf("message: got %q, want capacity error", body.Message)
	}
}
