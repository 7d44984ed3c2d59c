package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitpass/coupon-engine/internal/models"
	"github.com/benefitpass/coupon-engine/internal/quota"
	"github.com/benefitpass/coupon-engine/internal/repository"
	"github.com/benefitpass/coupon-engine/internal/service"
	"github.com/benefitpass/coupon-engine/internal/token"
)

func newTestServer(t *testing.T) (*httptest.Server, *repository.MemoryStore) {
	t.Helper()

	store := repository.NewMemoryStore()
	store.PutMerchant(&models.Merchant{ID: "m1", Name: "Harbor Cafe", Lat: 33.50, Lng: 126.52})
	require.NoError(t, store.PutBenefit(&models.Benefit{
		ID:              "b1",
		MerchantID:      "m1",
		Title:           "Americano 1+1",
		Status:          models.BenefitActive,
		ValidFrom:       time.Now().Add(-time.Hour),
		ValidTo:         time.Now().Add(time.Hour),
		GeoRadiusMeters: 150,
	}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	guard := quota.NewMemoryGuard(store)
	svc := service.NewCouponLifecycle(store, store, store, guard, token.Issuer{}, log)

	srv := httptest.NewServer(NewRouter(svc, log))
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func issueCoupon(t *testing.T, srv *httptest.Server, userID string) map[string]interface{} {
	t.Helper()
	resp := postJSON(t, srv.URL+"/coupons", IssueBody{BenefitID: "b1"}, map[string]string{"X-User-ID": userID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	coupon, ok := body["coupon"].(map[string]interface{})
	require.True(t, ok)
	return coupon
}

type IssueBody struct {
	BenefitID string `json:"benefit_id"`
}

type RedeemBody struct {
	Token      string       `json:"token,omitempty"`
	Pin        string       `json:"pin,omitempty"`
	MerchantID string       `json:"merchant_id"`
	Location   *RedeemPoint `json:"location,omitempty"`
}

type RedeemPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected an error envelope, got %v", body)
	code, _ := errObj["code"].(string)
	return code
}

func TestIssueEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	coupon := issueCoupon(t, srv, "u1")
	assert.Equal(t, "b1", coupon["benefit_id"])
	assert.NotEmpty(t, coupon["token"])
	assert.Len(t, coupon["pin"], 4)
}

func TestIssueEndpointRequiresUser(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/coupons", IssueBody{BenefitID: "b1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "USER_REQUIRED", errorCode(t, decodeBody(t, resp)))
}

func TestIssueEndpointUnknownBenefit(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/coupons", IssueBody{BenefitID: "nope"}, map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BENEFIT_NOT_FOUND", errorCode(t, decodeBody(t, resp)))
}

// The default user limit of one surfaces as the duplicate-coupon reason.
func TestIssueEndpointDuplicateActiveCoupon(t *testing.T) {
	srv, _ := newTestServer(t)

	issueCoupon(t, srv, "u1")
	resp := postJSON(t, srv.URL+"/coupons", IssueBody{BenefitID: "b1"}, map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_ACTIVE_COUPON", errorCode(t, decodeBody(t, resp)))
}

func TestRedeemEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	coupon := issueCoupon(t, srv, "u1")
	resp := postJSON(t, srv.URL+"/coupons/redeem", RedeemBody{
		Token:      coupon["token"].(string),
		MerchantID: "m1",
		Location:   &RedeemPoint{Lat: 33.50, Lng: 126.52},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	require.NotNil(t, body["redemption"])
	assert.Len(t, store.Records(), 1)
}

func TestRedeemEndpointOutOfGeofence(t *testing.T) {
	srv, _ := newTestServer(t)

	coupon := issueCoupon(t, srv, "u1")
	resp := postJSON(t, srv.URL+"/coupons/redeem", RedeemBody{
		Token:      coupon["token"].(string),
		MerchantID: "m1",
		Location:   &RedeemPoint{Lat: 33.5045, Lng: 126.52},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "OUT_OF_GEOFENCE", errorCode(t, decodeBody(t, resp)))
}

func TestRedeemEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/coupons/redeem", RedeemBody{MerchantID: "m1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/coupons/redeem", RedeemBody{Token: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/coupons/redeem", RedeemBody{
		Token: "x", MerchantID: "m1", Location: &RedeemPoint{Lat: 95, Lng: 0},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_LOCATION", errorCode(t, decodeBody(t, resp)))
}

func TestValidateEndpointIsReadOnly(t *testing.T) {
	srv, store := newTestServer(t)

	coupon := issueCoupon(t, srv, "u1")
	url := fmt.Sprintf("%s/coupons/validate/%s?merchant_id=m1&location=33.50,126.52", srv.URL, coupon["token"])

	resp, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["valid"])
	assert.Empty(t, store.Records(), "validate must not consume the coupon")
}

func TestValidateEndpointUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/coupons/validate/nope?merchant_id=m1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestValidateEndpointRejectsBadLocation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/coupons/validate/tok?merchant_id=m1&location=91,0")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListUserCouponsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	issueCoupon(t, srv, "u1")

	resp, err := http.Get(srv.URL + "/users/u1/coupons?status=active")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	coupons, ok := body["coupons"].([]interface{})
	require.True(t, ok)
	assert.Len(t, coupons, 1)

	resp, err = http.Get(srv.URL + "/users/u1/coupons?status=used")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Empty(t, body["coupons"])

	resp, err = http.Get(srv.URL + "/users/u1/coupons?status=banana")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
