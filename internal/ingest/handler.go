package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"reporting-etl/internal/kafka"
	myErr "reporting-etl/internal/types/errors"
)

type Handler struct {
	consumer StateReporter
	logger   *zap.SugaredLogger
}

func NewHandler(consumer StateReporter, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		consumer: consumer,
		logger:   logger,
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Consumer string `json:"consumer"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.consumer.State()
	if state == kafka.StateDisconnected {
		myErr.SendErrorTo(w, fmt.Errorf("consumer is %s", state), http.StatusServiceUnavailable, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Consumer: state.String()}); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}
