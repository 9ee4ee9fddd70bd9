package servicesapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/services"
)

func TestKVRoundTrip(t *testing.T) {
	h := New(services.NewMemoryKV(), nil, nil, zap.NewNop())

	putReq := httptest.NewRequest("PUT", "/kv/greeting", bytes.NewBufferString("hello"))
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	require.Equal(t, 204, putRec.Code)

	getReq := httptest.NewRequest("GET", "/kv/greeting", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	require.Equal(t, 200, getRec.Code)
	assert.Equal(t, "hello", getRec.Body.String())

	delReq := httptest.NewRequest("DELETE", "/kv/greeting", nil)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, delReq)
	require.Equal(t, 204, delRec.Code)

	missingReq := httptest.NewRequest("GET", "/kv/greeting", nil)
	missingRec := httptest.NewRecorder()
	h.ServeHTTP(missingRec, missingReq)
	assert.Equal(t, 404, missingRec.Code)
}

func TestKVNotConfiguredReturns501(t *testing.T) {
	h := New(nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest("GET", "/kv/anything", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, 501, rec.Code)
}

func TestObjectRoundTrip(t *testing.T) {
	h := New(nil, services.NewMemoryObjectStore(), nil, zap.NewNop())

	putReq := httptest.NewRequest("PUT", "/objects/reports/q1.csv", bytes.NewBufferString("a,b,c"))
	putReq.Header.Set("Content-Type", "text/csv")
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	require.Equal(t, 204, putRec.Code)

	getReq := httptest.NewRequest("GET", "/objects/reports/q1.csv", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	require.Equal(t, 200, getRec.Code)
	assert.Equal(t, "a,b,c", getRec.Body.String())
	assert.Equal(t, "text/csv", getRec.Header().Get("Content-Type"))
}

func TestQueuePushPop(t *testing.T) {
	h := New(nil, nil, services.NewMemoryQueue(), zap.NewNop())

	pushReq := httptest.NewRequest("POST", "/queue/jobs/push", bytes.NewBufferString("payload"))
	pushRec := httptest.NewRecorder()
	h.ServeHTTP(pushRec, pushReq)
	require.Equal(t, 200, pushRec.Code)

	lenReq := httptest.NewRequest("GET", "/queue/jobs/len", nil)
	lenRec := httptest.NewRecorder()
	h.ServeHTTP(lenRec, lenReq)
	require.Equal(t, 200, lenRec.Code)
	assert.JSONEq(t, `{"len":1}`, lenRec.Body.String())

	popReq := httptest.NewRequest("POST", "/queue/jobs/pop", nil)
	popRec := httptest.NewRecorder()
	h.ServeHTTP(popRec, popReq)
	require.Equal(t, 200, popRec.Code)

	var msg services.QueueMessage
	require.NoError(t, json.Unmarshal(popRec.Body.Bytes(), &msg))
	assert.Equal(t, "payload", string(msg.Body))
}
