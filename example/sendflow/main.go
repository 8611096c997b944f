package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/opensigning/signbridge/pkg/assertion"
	"github.com/opensigning/signbridge/pkg/broker"
	"github.com/opensigning/signbridge/pkg/invoker"
)

func main() {

	// Import the integration's signing key
	builder, err := assertion.NewBuilder(assertion.Identity{
		IntegrationKey: "your-integration-key",
		UserID:         "api-user@example.com",
		Authority:      "auth.signing.example.com",
		Scope:          "agreement_read agreement_send",
	}, os.Getenv("SIGNBRIDGE_PRIVATE_KEY"))
	if err != nil {
		log.Fatalf("Failed to import signing key: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Trade a fresh assertion for a bearer token
	jws, err := builder.BuildNow()
	if err != nil {
		log.Fatalf("Failed to build assertion: %v", err)
	}

	token, err := broker.New("https://auth.signing.example.com/oauth/token").Exchange(ctx, jws)
	if err != nil {
		log.Fatalf("Token exchange failed: %v", err)
	}

	// Find the API version this account answers on
	inv := invoker.New("https://api.signing.example.com")
	listed, err := inv.Probe(ctx, token.AccessToken, []string{"/api/rest/v6", "/api/rest/v5"}, invoker.Request{
		Path: "/agreements",
	})
	if err != nil {
		log.Fatalf("Probe failed: %v", err)
	}
	log.Printf("Agreements list served from %s after %d misses", listed.Candidate, len(listed.Prior))

	// Send an agreement on the discovered base path
	document := "<html><body><h1>Example NDA</h1><p>Please sign below.</p></body></html>"
	sent, err := inv.Do(ctx, token.AccessToken, invoker.Request{
		Method: http.MethodPost,
		Path:   listed.Candidate + "/agreements",
		Body: map[string]interface{}{
			"name":            "Example NDA",
			"signatureType":   "ESIGN",
			"state":           "IN_PROCESS",
			"documentName":    "nda.html",
			"documentContent": base64.StdEncoding.EncodeToString([]byte(document)),
		},
	})
	if err != nil {
		log.Fatalf("Send failed: %v", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := sent.Decode(&created); err != nil {
		log.Fatalf("Failed to decode send response: %v", err)
	}
	log.Printf("Agreement created: %s", created.ID)
}
