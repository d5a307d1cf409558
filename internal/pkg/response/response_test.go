package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestErrorKeepsHTTP200(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	Error(c, 10000003, "not found")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 10000003, body.Code)
	require.Equal(t, "not found", body.Msg)
}

func TestStreamWritesEventsAndHeartbeats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	old := streamHeartbeat
	streamHeartbeat = 5 * time.Millisecond
	t.Cleanup(func() { streamHeartbeat = old })

	ch := make(chan string, 1)
	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		Stream(c, ch, func(v string) (string, interface{}) { return "msg", v })
	})
	go func() {
		time.Sleep(30 * time.Millisecond)
		ch <- "hello"
		close(ch)
	}()

	rec := createTestResponseRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	out := rec.Body.String()
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, out, ": ping")
	require.Contains(t, out, "event:msg")
	require.True(t, strings.Contains(out, "data:hello"))
}

// testResponseRecorder mirrors gin's test-only helper: gin's Context.Stream
// requires the underlying writer to implement http.CloseNotifier.
type testResponseRecorder struct {
	*httptest.ResponseRecorder
	closeChannel chan bool
}

func (r *testResponseRecorder) CloseNotify() <-chan bool {
	return r.closeChannel
}

func createTestResponseRecorder() *testResponseRecorder {
	return &testResponseRecorder{
		httptest.NewRecorder(),
		make(chan bool, 1),
	}
}
