// Package webhook accepts updates pushed over HTTP and feeds them to a dispatcher.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lowc1012/bot-dispatch/internal/log"
	"github.com/lowc1012/bot-dispatch/pkg/dispatch"
	"go.uber.org/zap"
)

const maxUpdateBytes = 1 << 20

// Processor handles one decoded update and returns how many handlers ran.
type Processor interface {
	ProcessUpdate(ctx context.Context, u *dispatch.Update) int
}

type handler struct {
	processor Processor
	onUpdate  func(matched bool)
}

// NewHandler returns an http.Handler decoding a JSON update from the request
// body. onUpdate may be nil.
func NewHandler(p Processor, onUpdate func(matched bool)) http.Handler {
	return &handler{processor: p, onUpdate: onUpdate}
}

func (h *handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	var u dispatch.Update
	dec := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxUpdateBytes))
	if err := dec.Decode(&u); err != nil {
		log.Logger().Debug("Rejected webhook update", zap.Error(err))
		http.Error(writer, fmt.Sprintf("failed to decode update: %v", err), http.StatusBadRequest)
		return
	}

	// handlers outlive the request when async, so they must not inherit its cancellation
	n := h.processor.ProcessUpdate(context.WithoutCancel(request.Context()), &u)
	if h.onUpdate != nil {
		h.onUpdate(n > 0)
	}
	writer.WriteHeader(http.StatusNoContent)
}
