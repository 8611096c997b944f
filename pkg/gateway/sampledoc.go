package gateway

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"time"
)

const (
	sampleAgreementName = "SignBridge Sample Agreement"
	sampleDocumentName  = "sample-agreement.html"
)

// sampleDocumentHTML renders a small self-contained agreement document.
// Signing APIs accept HTML uploads, which keeps the sample free of binary
// fixtures.
func sampleDocumentHTML(agreementName string, at time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<h1>%s</h1>
<p>This agreement was generated on %s to exercise the send flow.</p>
<p>Signature: ______________________ Date: ____________</p>
</body>
</html>
`, html.EscapeString(agreementName), html.EscapeString(agreementName), at.Format("January 2, 2006"))
	return b.Bytes()
}

// sampleSendPayload builds a complete send request around a generated
// document, for callers who want to exercise the flow without sourcing a
// file.
func sampleSendPayload(at time.Time) map[string]interface{} {
	payload := map[string]interface{}{
		"name":          sampleAgreementName,
		"signatureType": "ESIGN",
		"state":         "IN_PROCESS",
	}
	attachSampleDocument(payload, at)
	return payload
}

// attachSampleDocument fills in the document fields when the caller's
// payload carries none.
func attachSampleDocument(payload map[string]interface{}, at time.Time) {
	if _, ok := payload["documentContent"]; ok {
		return
	}
	name := sampleAgreementName
	if n, ok := payload["name"].(string); ok && n != "" {
		name = n
	}
	payload["documentName"] = sampleDocumentName
	payload["documentContent"] = base64.StdEncoding.EncodeToString(sampleDocumentHTML(name, at))
}
