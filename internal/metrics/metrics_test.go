package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(MessagesStored.WithLabelValues("free"))
	MessagesStored.WithLabelValues("free").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MessagesStored.WithLabelValues("free")))

	before = testutil.ToFloat64(MessagesDuplicate)
	MessagesDuplicate.Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(MessagesDuplicate))
}

func TestHandlerExposesMetrics(t *testing.T) {
	AddressesExpired.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tempmail_addresses_expired_total")
}
