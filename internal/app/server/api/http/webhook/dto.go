package webhook

import "keapsync/internal/domain/sync"

// receiveInput тело проверяется подписью до разбора, поэтому huma получает его как есть
type receiveInput struct {
	Signature       string `header:"X-Hook-Signature" doc:"base64(HMAC-SHA256(body, secret))"`
	LegacySignature string `header:"X-Keap-Signature"`
	RawBody         []byte
}

type receiveOutput struct {
	Body sync.WebhookResponse
}
