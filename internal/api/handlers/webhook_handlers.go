package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/internal/domain/services/ingest"
	"github.com/vidora/stars-service/internal/infrastructure/config"
	"github.com/vidora/stars-service/pkg/logger"
	"github.com/vidora/stars-service/pkg/metrics"
	"github.com/vidora/stars-service/pkg/webhook"
)

// webhookSecretHeader carries the provider's shared secret
const webhookSecretHeader = "x-webhook-secret"

// webhookSignatureHeader carries an HMAC-SHA256 hex signature of the raw
// body, keyed with the endpoint secret. Accepted as an alternative to
// the shared-secret header on the generic chain endpoint.
const webhookSignatureHeader = "x-webhook-signature"

// IngestService turns an authenticated delivery into queued work
type IngestService interface {
	Ingest(ctx context.Context, provider entities.Provider, chain entities.Chain, endpoint, sourceIP string, headers map[string]string, payload []byte) (*ingest.Result, error)
}

// WebhookHandlers terminates the provider-facing deposit webhooks.
// Authentication is fail closed: a missing or unconfigured secret
// rejects the request before anything is processed or written.
type WebhookHandlers struct {
	ingest  IngestService
	secrets config.WebhookConfig
	logger  *logger.Logger
}

// NewWebhookHandlers creates the webhook handlers
func NewWebhookHandlers(ingest IngestService, secrets config.WebhookConfig, logger *logger.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		ingest:  ingest,
		secrets: secrets,
		logger:  logger,
	}
}

// webhookResponse is what providers get back on a handled delivery
type webhookResponse struct {
	OK         bool   `json:"ok"`
	AuditLogID string `json:"auditLogId"`
	Outcome    string `json:"outcome"`
	Transfers  int    `json:"transfers,omitempty"`
}

// HandleHelius accepts Helius enhanced-transaction webhooks for Solana
// @Summary Helius deposit webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} webhookResponse
// @Router /api/v1/webhooks/helius [post]
func (h *WebhookHandlers) HandleHelius(c *gin.Context) {
	h.handle(c, entities.ProviderHelius, entities.ChainSolana, h.secrets.HeliusSecret)
}

// HandleTronGrid accepts TronGrid event webhooks for Tron
// @Summary TronGrid deposit webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} webhookResponse
// @Router /api/v1/webhooks/trongrid [post]
func (h *WebhookHandlers) HandleTronGrid(c *gin.Context) {
	h.handle(c, entities.ProviderTronGrid, entities.ChainTron, h.secrets.TronGridSecret)
}

// HandleChain accepts the generic EVM transfer webhook. The body is an
// envelope {provider, chain, payload}: provider and chain are validated
// against their enums, the nested payload carries the provider's actual
// transfer document.
// @Summary Generic EVM deposit webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} webhookResponse
// @Router /api/v1/webhooks/chain [post]
func (h *WebhookHandlers) HandleChain(c *gin.Context) {
	body, ok := h.authenticateChain(c)
	if !ok {
		return
	}

	var envelope struct {
		Provider string          `json:"provider"`
		Chain    string          `json:"chain"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		respondBadRequest(c, "malformed JSON body")
		return
	}

	provider := entities.Provider(strings.ToUpper(envelope.Provider))
	if !provider.IsValid() {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidProvider, "unsupported provider", map[string]interface{}{
			"provider": envelope.Provider,
			"supported": []string{
				string(entities.ProviderHelius), string(entities.ProviderAlchemy),
				string(entities.ProviderTronGrid), string(entities.ProviderQuicknode),
				string(entities.ProviderManual),
			},
		})
		return
	}

	chain := entities.Chain(strings.ToUpper(envelope.Chain))
	if !chain.IsValid() || chain.AddressFamily() != entities.AddressFamilyEVM {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidChain, "unsupported chain", map[string]interface{}{
			"chain": envelope.Chain,
			"supported": []string{
				string(entities.ChainEthereum), string(entities.ChainPolygon),
				string(entities.ChainBSC), string(entities.ChainBase),
			},
		})
		return
	}

	if len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		respondBadRequest(c, "envelope payload is required", map[string]interface{}{"field": "payload"})
		return
	}

	h.process(c, provider, chain, envelope.Payload)
}

func (h *WebhookHandlers) handle(c *gin.Context, provider entities.Provider, chain entities.Chain, secret string) {
	if !h.authenticate(c, provider, secret) {
		return
	}
	payload, ok := h.readBody(c)
	if !ok {
		return
	}
	h.process(c, provider, chain, payload)
}

// authenticate checks the shared-secret header before the body is
// touched. An empty configured secret means the endpoint is disabled.
func (h *WebhookHandlers) authenticate(c *gin.Context, provider entities.Provider, secret string) bool {
	header := c.GetHeader(webhookSecretHeader)
	if !webhook.VerifySharedSecret(header, secret) {
		h.logger.Warn("Webhook authentication failed",
			"provider", provider,
			"source_ip", c.ClientIP(),
			"request_id", getRequestID(c))
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(provider), "rejected").Inc()
		respondUnauthorized(c, "invalid webhook secret")
		return false
	}
	return true
}

// authenticateChain authorizes the generic endpoint and returns the raw
// body. Either the shared-secret header or an HMAC-SHA256 hex signature
// of the body (keyed with the same secret) gets through; anything else
// is rejected before the envelope is looked at.
func (h *WebhookHandlers) authenticateChain(c *gin.Context) ([]byte, bool) {
	secret := h.secrets.ChainSecret

	if webhook.VerifySharedSecret(c.GetHeader(webhookSecretHeader), secret) {
		return h.readBody(c)
	}

	if sig := c.GetHeader(webhookSignatureHeader); sig != "" {
		body, ok := h.readBody(c)
		if !ok {
			return nil, false
		}
		if webhook.VerifySignature(body, sig, secret) {
			return body, true
		}
	}

	h.logger.Warn("Webhook authentication failed",
		"endpoint", "chain",
		"source_ip", c.ClientIP(),
		"request_id", getRequestID(c))
	metrics.WebhookDeliveriesTotal.WithLabelValues("CHAIN", "rejected").Inc()
	respondUnauthorized(c, "invalid webhook secret")
	return nil, false
}

func (h *WebhookHandlers) readBody(c *gin.Context) ([]byte, bool) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "request body too large or unreadable", nil)
		return nil, false
	}
	if len(payload) == 0 {
		respondBadRequest(c, "empty request body")
		return nil, false
	}
	return payload, true
}

func (h *WebhookHandlers) process(c *gin.Context, provider entities.Provider, chain entities.Chain, payload []byte) {
	headers := map[string]string{
		"Content-Type": c.GetHeader("Content-Type"),
		"User-Agent":   c.Request.UserAgent(),
	}

	result, err := h.ingest.Ingest(c.Request.Context(), provider, chain, c.FullPath(), c.ClientIP(), headers, payload)
	if err != nil {
		if result != nil && result.Outcome == entities.OutcomeInvalid {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "payload did not parse as provider schema", map[string]interface{}{
				"auditLogId": result.DeliveryID.String(),
			})
			return
		}
		h.logger.Error("Webhook ingest failed", "provider", provider, "error", err, "request_id", getRequestID(c))
		respondInternalError(c, "failed to process webhook")
		return
	}

	c.JSON(http.StatusOK, webhookResponse{
		OK:         true,
		AuditLogID: result.DeliveryID.String(),
		Outcome:    strings.ToUpper(string(result.Outcome)),
		Transfers:  result.Transfers,
	})
}
