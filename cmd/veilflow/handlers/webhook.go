package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
	"github.com/veilflow/veilflow/common/metrics"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/repository"
)

const (
	forgeSignatureHeader = "X-Hub-Signature-256"
	plainSecretHeader    = "X-Trigger-Secret"
)

// WebhookHandler is the synchronous trigger intake: a POST to
// /hooks/:triggerId verifies the trigger's secret and queues a run of the
// bound published workflow.
type WebhookHandler struct {
	container *container.Container
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(c *container.Container) *WebhookHandler {
	return &WebhookHandler{container: c}
}

// Receive handles one webhook delivery
func (h *WebhookHandler) Receive(c echo.Context) error {
	triggerID, err := pathID(c, "triggerId")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	trigger, err := h.container.TriggerRepo.GetByID(ctx, triggerID)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "trigger not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if trigger.Status != models.TriggerActive {
		return echo.NewHTTPError(http.StatusNotFound, "trigger not active")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}

	// Authentication happens before any run is created
	switch trigger.Type {
	case models.TriggerForgeWebhook:
		if err := h.verifyForgeSignature(c, trigger, body); err != nil {
			return err
		}
	case models.TriggerWebhook:
		if err := verifyPlainSecret(c, trigger); err != nil {
			return err
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "trigger is not a webhook")
	}

	workflow, err := h.container.WorkflowRepo.GetPublishedByTrigger(ctx, triggerID)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no published workflow for trigger")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var payload map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "payload must be a JSON object")
		}
	}

	run, err := h.container.RunService.CreateRun(ctx, workflow, &triggerID, payload, "webhook")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	metrics.TriggerFires.WithLabelValues(string(trigger.Type)).Inc()
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"runId":  run.ID,
		"status": "queued",
	})
}

// verifyForgeSignature checks the HMAC-SHA256 body signature against the
// connector's shared secret
func (h *WebhookHandler) verifyForgeSignature(c echo.Context, trigger *models.Trigger, body []byte) error {
	if trigger.ConnectorID == nil {
		return echo.NewHTTPError(http.StatusForbidden, "trigger has no signing connector")
	}

	connector, err := h.container.ConnectorRepo.GetDecrypted(c.Request().Context(), *trigger.ConnectorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "signing connector unavailable")
	}
	secret, _ := connector.Config["secret"].(string)
	if secret == "" {
		return echo.NewHTTPError(http.StatusForbidden, "signing connector has no secret")
	}

	header := c.Request().Header.Get(forgeSignatureHeader)
	if !validForgeSignature(secret, header, body) {
		return echo.NewHTTPError(http.StatusForbidden, "signature mismatch")
	}
	return nil
}

// validForgeSignature checks a "sha256=<hex>" header against the body's
// HMAC under the shared secret, in constant time
func validForgeSignature(secret, header string, body []byte) bool {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(provided))
}

// verifyPlainSecret requires the trigger's configured secret in the
// X-Trigger-Secret header. Triggers without a secret accept any caller.
func verifyPlainSecret(c echo.Context, trigger *models.Trigger) error {
	secret := trigger.ConfigString("secret", "")
	if secret == "" {
		return nil
	}

	provided := c.Request().Header.Get(plainSecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
		return echo.NewHTTPError(http.StatusForbidden, "invalid trigger secret")
	}
	return nil
}
