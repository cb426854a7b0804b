// Command gateway-mock is a local stand-in for the hosted payment
// gateway, used in development and integration tests. It accepts signed
// paymentInit requests, verifies their seal against the shared secret,
// and answers with a redirect to a simulated hosted payment page. It
// never talks back to the API; tests drive the webhook themselves.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pixfil/masterclass-orders/internal/gateway"
)

func main() {
	var (
		addr       string
		publicURL  string
		secret     string
		keyVersion string
	)

	flag.StringVar(&addr, "addr", "0.0.0.0:9090", "listen address")
	flag.StringVar(&publicURL, "public-url", "http://localhost:9090", "base URL used in redirect responses")
	flag.StringVar(&secret, "secret", "", "shared secret for seal verification (or MCO_GATEWAY_SECRET env)")
	flag.StringVar(&keyVersion, "key-version", "1", "key version the secret belongs to")
	flag.Parse()

	if secret == "" {
		secret = os.Getenv("MCO_GATEWAY_SECRET")
	}
	if secret == "" {
		slog.Error("secret is required: set --secret or MCO_GATEWAY_SECRET")
		os.Exit(1)
	}

	adapter := gateway.NewAdapter(gateway.Config{
		Secrets:    gateway.Secrets{keyVersion: secret},
		KeyVersion: keyVersion,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /paymentInit", paymentInit(adapter, publicURL))
	mux.HandleFunc("GET /payment/", paymentPage)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway mock listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("serve failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type initRequest struct {
	Data             string `json:"Data"`
	Seal             string `json:"Seal"`
	InterfaceVersion string `json:"InterfaceVersion"`
}

type initResponse struct {
	RedirectionVersion    string `json:"redirectionVersion,omitempty"`
	RedirectionURL        string `json:"redirectionUrl,omitempty"`
	RedirectionStatusCode string `json:"redirectionStatusCode"`
}

// paymentInit validates the sealed authorization request and answers with
// a redirect pointing at the simulated payment page. The transaction
// reference is embedded in the redirect URL so tests can recover it.
func paymentInit(adapter *gateway.Adapter, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			respond(w, initResponse{RedirectionStatusCode: "12"})
			return
		}

		form := url.Values{}
		form.Set("Data", req.Data)
		form.Set("Seal", req.Seal)

		notice, err := adapter.ParseNotification(r.Context(), form)
		if err != nil {
			slog.Warn("rejecting payment init", slog.String("error", err.Error()))
			respond(w, initResponse{RedirectionStatusCode: "34"})
			return
		}

		slog.Info("payment init accepted",
			slog.String("order", notice.OrderNumber),
			slog.String("transaction_reference", notice.TransactionID))

		respond(w, initResponse{
			RedirectionVersion:    req.InterfaceVersion,
			RedirectionURL:        fmt.Sprintf("%s/payment/%s", strings.TrimRight(publicURL, "/"), notice.TransactionID),
			RedirectionStatusCode: "00",
		})
	}
}

// paymentPage serves a placeholder for the hosted card-entry page.
func paymentPage(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/payment/")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>Simulated payment page</h1><p>Transaction %s</p></body></html>", ref)
}

func respond(w http.ResponseWriter, resp initResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
