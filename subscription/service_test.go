package subscription

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zllovesuki/pagecraft/auth"
	"github.com/zllovesuki/pagecraft/spec"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

type testAPI struct {
	*testLedger
	eventLog *RedisEventLog
	redis    *miniredis.Miniredis
	handler  http.Handler
	token    string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	l := newTestLedger(t)
	eventLog, mr := newTestEventLog(t)

	a, err := auth.New(auth.Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: "0123456789abcdef0123",
	})
	require.NoError(t, err)
	token, err := a.CreateTokenFromClaims(auth.Claims{UserID: testUser})
	require.NoError(t, err)

	svc, err := NewService(ServiceOptions{
		Auth:                a,
		SubscriptionManager: l.Manager,
		EventLog:            eventLog,
		WebhookSecret:       testWebhookSecret,
		Logger:              zap.NewNop(),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/webhooks", svc.WebhookRouter())
	r.Mount("/subscriptions", svc.Router())

	return &testAPI{
		testLedger: l,
		eventLog:   eventLog,
		redis:      mr,
		handler:    r,
		token:      token,
	}
}

func signedPayload(t *testing.T, secret string, evt map[string]interface{}) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func envelopeFor(id, eventType string, object interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     testNow.Unix(),
		"api_version": stripe.APIVersion,
		"data": map[string]interface{}{
			"object": object,
		},
	}
}

func (a *testAPI) deliver(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) call(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+a.token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func checkoutPayload() map[string]interface{} {
	return map[string]interface{}{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"subscription":        testSubID,
		"customer":            "cus_1",
		"client_reference_id": testUser,
		"metadata":            map[string]string{spec.MetadataWebsiteID: testWebsite},
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := signedPayload(t, testWebhookSecret, envelopeFor("evt_1", EventCheckoutCompleted, checkoutPayload()))
	_, forged := signedPayload(t, "whsec_other", envelopeFor("evt_1", EventCheckoutCompleted, checkoutPayload()))

	rec := api.deliver(t, payload, forged)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.deliver(t, payload, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, api.billing.calls)
}

func TestWebhookProcessesAndDeduplicates(t *testing.T) {
	api := newTestAPI(t)
	start := testNow.Add(-time.Minute)
	api.billing.subscriptions[testSubID] = upstreamSubscription(testSubID, stripe.SubscriptionStatusActive, start, start.Add(time.Hour*24*30), nil)

	payload, signature := signedPayload(t, testWebhookSecret, envelopeFor("evt_1", EventCheckoutCompleted, checkoutPayload()))

	rec := api.deliver(t, payload, signature)
	require.Equal(t, http.StatusOK, rec.Code)

	var receipt WebhookReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.True(t, receipt.Received)
	assert.Equal(t, EventCheckoutCompleted, receipt.EventType)

	sub := api.mustGet(t, testSubID)
	assert.Equal(t, testWebsite, sub.WebsiteID)

	rec = api.deliver(t, payload, signature)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, api.billing.calls, 1)
}

func TestWebhookAcknowledgesUnusableEvents(t *testing.T) {
	api := newTestAPI(t)

	malformed := envelopeFor("evt_bad", EventSubscriptionUpdated, map[string]interface{}{"status": "active"})
	payload, signature := signedPayload(t, testWebhookSecret, malformed)
	rec := api.deliver(t, payload, signature)
	assert.Equal(t, http.StatusOK, rec.Code)

	ignored := envelopeFor("evt_other", "charge.succeeded", map[string]interface{}{"id": "ch_1"})
	payload, signature = signedPayload(t, testWebhookSecret, ignored)
	rec = api.deliver(t, payload, signature)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, id := range []string{"evt_bad", "evt_other"} {
		state, err := api.eventLog.Claim(id)
		require.NoError(t, err)
		assert.Equal(t, ClaimDone, state, id)
	}
}

func TestWebhookFailureReleasesClaim(t *testing.T) {
	api := newTestAPI(t)
	start := testNow.Add(-time.Minute)
	api.billing.subscriptions[testSubID] = upstreamSubscription(testSubID, stripe.SubscriptionStatusActive, start, start.Add(time.Hour*24*30), nil)
	api.billing.err = errors.New("provider unavailable")

	payload, signature := signedPayload(t, testWebhookSecret, envelopeFor("evt_1", EventCheckoutCompleted, checkoutPayload()))

	rec := api.deliver(t, payload, signature)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	api.billing.err = nil
	rec = api.deliver(t, payload, signature)
	assert.Equal(t, http.StatusOK, rec.Code)
	api.mustGet(t, testSubID)
}

func TestWebhookInFlightEventAsksForRetry(t *testing.T) {
	api := newTestAPI(t)
	start := testNow.Add(-time.Minute)
	api.billing.subscriptions[testSubID] = upstreamSubscription(testSubID, stripe.SubscriptionStatusActive, start, start.Add(time.Hour*24*30), nil)

	// an earlier attempt holds the lease and never finishes
	state, err := api.eventLog.Claim("evt_1")
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	payload, signature := signedPayload(t, testWebhookSecret, envelopeFor("evt_1", EventCheckoutCompleted, checkoutPayload()))

	rec := api.deliver(t, payload, signature)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, api.billing.calls)
	missing, err := api.GetByID(context.Background(), testSubID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	api.redis.FastForward(time.Minute + time.Second)

	rec = api.deliver(t, payload, signature)
	require.Equal(t, http.StatusOK, rec.Code)
	sub := api.mustGet(t, testSubID)
	assert.Equal(t, testWebsite, sub.WebsiteID)

	state, err = api.eventLog.Claim("evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, state)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	api := newTestAPI(t)

	object := checkoutPayload()
	object["metadata"] = map[string]string{
		spec.MetadataWebsiteID: testWebsite,
		"padding":              strings.Repeat("x", int(maxWebhookBodyBytes)),
	}
	payload, signature := signedPayload(t, testWebhookSecret, envelopeFor("evt_big", EventCheckoutCompleted, object))

	rec := api.deliver(t, payload, signature)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, api.billing.calls)

	state, err := api.eventLog.Claim("evt_big")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestEntitlementRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, activeRecord(testSubID, testWebsite, testNow.Add(time.Hour)))

	rec := api.call(t, http.MethodGet, "/subscriptions/websites/"+testWebsite, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ent Entitlement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ent))
	assert.True(t, ent.HasActiveSubscription)
	require.NotNil(t, ent.Data)
	assert.Equal(t, testSubID, ent.Data.ID)

	rec = api.call(t, http.MethodGet, "/subscriptions/websites/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.call(t, http.MethodPost, "/subscriptions/websites", BulkEntitlementRequest{
		WebsiteIDs: []string{testWebsite, otherWebsite},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var bulk map[string]Entitlement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bulk))
	require.Len(t, bulk, 2)
	assert.True(t, bulk[testWebsite].HasActiveSubscription)
	assert.False(t, bulk[otherWebsite].HasActiveSubscription)
	assert.Nil(t, bulk[otherWebsite].Data)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/websites/"+testWebsite, nil)
	unauthenticated := httptest.NewRecorder()
	api.handler.ServeHTTP(unauthenticated, req)
	assert.Equal(t, http.StatusUnauthorized, unauthenticated.Code)
}

func TestCommandRoutes(t *testing.T) {
	api := newTestAPI(t)
	seedWithUpstream(t, api.testLedger, activeRecord(testSubID, testWebsite, testNow.Add(time.Hour*24*5)))

	rec := api.call(t, http.MethodPost, "/subscriptions/reactivate", ReactivateRequest{SubscriptionID: testSubID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.call(t, http.MethodPost, "/subscriptions/cancel", CancelOption{SubscriptionID: testSubID, UserID: otherUser})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.call(t, http.MethodPost, "/subscriptions/cancel", CancelOption{SubscriptionID: "sub_Missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.call(t, http.MethodPost, "/subscriptions/cancel", CancelOption{SubscriptionID: testSubID})
	require.Equal(t, http.StatusOK, rec.Code)
	var result CancelResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.CancelAtPeriodEnd)
	assert.Equal(t, StatusActive, result.Status)

	rec = api.call(t, http.MethodPost, "/subscriptions/reactivate", ReactivateRequest{SubscriptionID: testSubID})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.call(t, http.MethodPost, "/subscriptions/cancel", CancelOption{SubscriptionID: testSubID, Immediate: true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.call(t, http.MethodPost, "/subscriptions/cancel", CancelOption{SubscriptionID: testSubID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
