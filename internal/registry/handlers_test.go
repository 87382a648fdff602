package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(store)
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterCustomerAndCard(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(store)

	w := doJSON(t, r, http.MethodPost, "/v1/customers", RegisterCustomerRequest{
		Name: "Ada", Channel: "sms", Address: "+15550001111",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var customer Customer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &customer))
	require.NotEmpty(t, customer.ID)

	w = doJSON(t, r, http.MethodPost, "/v1/cards", RegisterCardRequest{
		CustomerID: customer.ID, BankID: "bank_a",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var card Card
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
	assert.Equal(t, CardActive, card.Status)
	assert.Equal(t, customer.ID, card.CustomerID)
}

func TestRegisterCustomerInvalidChannel(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	w := doJSON(t, r, http.MethodPost, "/v1/customers", RegisterCustomerRequest{
		Channel: "fax", Address: "555",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_channel")
}

func TestRegisterCardUnknownCustomer(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	w := doJSON(t, r, http.MethodPost, "/v1/cards", RegisterCardRequest{
		CustomerID: "nobody", BankID: "bank_a",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "customer_not_found")
}

func TestGetCardNotFound(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	w := doJSON(t, r, http.MethodGet, "/v1/cards/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnblockCardHandler(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	customer := &Customer{Channel: "push", Address: "device-token"}
	require.NoError(t, store.CreateCustomer(ctx, customer))
	card := &Card{CustomerID: customer.ID, BankID: "bank_a"}
	require.NoError(t, store.CreateCard(ctx, card))
	_, err := store.BlockCard(ctx, card.ID, "limit reached")
	require.NoError(t, err)

	r := setupRouter(store)
	w := doJSON(t, r, http.MethodPost, "/v1/cards/"+card.ID+"/unblock", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, CardActive, got.Status)
}
