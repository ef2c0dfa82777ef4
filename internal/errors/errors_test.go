package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(KindSessionCreation, "research.start", base)

	assert.Equal(t, KindSessionCreation, KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.True(t, IsKind(fmt.Errorf("outer: %w", err), KindSessionCreation))
	assert.Equal(t, KindInternal, KindOf(base))
	assert.False(t, IsKind(nil, KindInternal))
	assert.NoError(t, Wrap(KindTimeout, "op", nil))
}

func TestRespondMapsKindToStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[Kind]int{
		KindPrecondition:    http.StatusConflict,
		KindInvalidInput:    http.StatusBadRequest,
		KindNotFound:        http.StatusNotFound,
		KindSessionCreation: http.StatusBadGateway,
		KindTimeout:         http.StatusGatewayTimeout,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Respond(c, New(kind, "test", "failed"))
		assert.Equal(t, status, w.Code, string(kind))
		assert.Contains(t, w.Body.String(), `"kind":"`+string(kind)+`"`)
	}
}
