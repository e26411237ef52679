package httpx

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoValidate(t *testing.T) {
	h := &PromoHandler{Promos: newFakePromos(), Auth: verifier}

	resp := serve(t, h, http.MethodPost, "/api/promo/validate", "", map[string]string{"promoCode": "SAVE10"})
	require.Equal(t, http.StatusOK, resp.Code)
	out := decode[promoResp](t, resp)
	assert.True(t, out.Valid)
	require.NotNil(t, out.PromoData)
	assert.Equal(t, 10, out.PromoData.DiscountValue)

	resp = serve(t, h, http.MethodPost, "/api/promo/validate", "", map[string]string{"promoCode": "OLDCODE"})
	require.Equal(t, http.StatusOK, resp.Code)
	out = decode[promoResp](t, resp)
	assert.False(t, out.Valid)
	assert.Equal(t, "promo code has expired", out.Error)

	resp = serve(t, h, http.MethodPost, "/api/promo/validate", "", map[string]string{"promoCode": "NOPE"})
	assert.False(t, decode[promoResp](t, resp).Valid)

	resp = serve(t, h, http.MethodPost, "/api/promo/validate", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPromoUseOncePerUser(t *testing.T) {
	promos := newFakePromos()
	h := &PromoHandler{Promos: promos, Auth: verifier}
	tok := token(t, "u1")

	assert.Equal(t, http.StatusUnauthorized,
		serve(t, h, http.MethodPost, "/api/promo/use", "", map[string]string{"promoCode": "SAVE10"}).Code)

	assert.Equal(t, http.StatusOK,
		serve(t, h, http.MethodPost, "/api/promo/use", tok, map[string]string{"promoCode": "SAVE10"}).Code)
	assert.Equal(t, http.StatusConflict,
		serve(t, h, http.MethodPost, "/api/promo/use", tok, map[string]string{"promoCode": "SAVE10"}).Code)

	// validate now reports the code as used for this user only
	resp := serve(t, h, http.MethodPost, "/api/promo/validate", tok, map[string]string{"promoCode": "SAVE10"})
	assert.False(t, decode[promoResp](t, resp).Valid)
	resp = serve(t, h, http.MethodPost, "/api/promo/validate", token(t, "u2"), map[string]string{"promoCode": "SAVE10"})
	assert.True(t, decode[promoResp](t, resp).Valid)
}
