package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowc1012/bot-dispatch/pkg/dispatch"
)

func TestHandler_DispatchesUpdate(t *testing.T) {
	d := dispatch.NewDispatcher()
	var got *dispatch.Context
	require.NoError(t, d.AddHandler(dispatch.NewCommandHandler("echo", []string{"echo"}, func(c *dispatch.Context) error {
		got = c
		return nil
	}, nil, false), 0))

	var matched []bool
	h := NewHandler(d, func(m bool) { matched = append(matched, m) })

	body := `{"update_id":10,"message":{"message_id":1,"from":{"id":42},"chat":{"id":-1,"type":"group"},"text":"/echo hi there"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.Update.ID)
	assert.Equal(t, int64(42), got.Update.EffectiveUser().ID)
	assert.Equal(t, []string{"hi", "there"}, got.Args)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id":11}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []bool{true, false}, matched)
}

type countingProcessor struct{ calls int }

func (p *countingProcessor) ProcessUpdate(context.Context, *dispatch.Update) int {
	p.calls++
	return 0
}

func TestHandler_RejectsInvalidBody(t *testing.T) {
	p := &countingProcessor{}
	h := NewHandler(p, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{not json`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to decode update")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, 0, p.calls)

	rec = httptest.NewRecorder()
	oversized := `{"update_id":1,"message":{"text":"` + strings.Repeat("a", maxUpdateBytes) + `"}}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(oversized)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, p.calls)
}
