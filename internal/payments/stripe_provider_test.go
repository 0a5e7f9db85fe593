package payments

import (
	"context"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeStripeSessions struct {
	created *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return f.session, nil
}

func (f *fakeStripeSessions) Get(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return f.session, nil
}

func TestStripeCreatePaymentChargesOrderTotal(t *testing.T) {
	sessions := &fakeStripeSessions{session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}}
	provider, err := NewStripeProvider(StripeProviderConfig{Sessions: sessions})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}

	session, err := provider.CreatePayment(context.Background(), Request{
		OrderID:   "ord_1",
		Amount:    4250,
		ReturnURL: "https://shop.example/return?state=abc",
		CancelURL: "https://shop.example/cancel",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if session.RedirectURL != "https://checkout.stripe.test/cs_1" || session.Reference != "cs_1" {
		t.Fatalf("unexpected session %#v", session)
	}
	line := sessions.created.LineItems[0]
	if *line.PriceData.UnitAmount != 425000 || *line.PriceData.Currency != "pkr" {
		t.Fatalf("unexpected line item amount %d %s", *line.PriceData.UnitAmount, *line.PriceData.Currency)
	}
	if got := *sessions.created.SuccessURL; got != "https://shop.example/return?state=abc&session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %s", got)
	}
}

func TestStripeVerifyCallbackReadsSession(t *testing.T) {
	sessions := &fakeStripeSessions{session: &stripe.CheckoutSession{
		ID:            "cs_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   425000,
		Metadata:      map[string]string{"orderId": "ord_1"},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	}}
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: sessions})

	result, err := provider.VerifyCallback(context.Background(), Callback{Values: map[string]string{"session_id": "cs_1"}})
	if err != nil {
		t.Fatalf("VerifyCallback: %v", err)
	}
	if result.Status != StatusSucceeded || result.OrderID != "ord_1" || result.Amount != 4250 || result.Reference != "pi_1" {
		t.Fatalf("unexpected result %#v", result)
	}
}
