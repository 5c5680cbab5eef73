package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

var (
	ErrDBInternal = errors.New("database internal error")

	ErrUnknownDimension      = errors.New("unknown dimension")
	ErrDimensionInconsistent = errors.New("dimension value missing after insert")

	ErrFetchStatus        = errors.New("metrics api returned non-2xx status")
	ErrMalformedResponse  = errors.New("malformed metrics api response")
	ErrNegativeValue      = errors.New("metric value must be non-negative")
	ErrInvalidEvent       = errors.New("invalid metric event")
	ErrInvalidDate        = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidDateRange   = errors.New("start date is after end date")
	ErrUnknownInterval    = errors.New("unknown backfill interval")
	ErrInvalidJob         = errors.New("invalid job descriptor")
	ErrUnknownDialect     = errors.New("unknown sql dialect")
	ErrInvalidChunkSize   = errors.New("chunk size must be positive")
	ErrInvalidConcurrency = errors.New("max concurrency must be positive")

	ErrProducerNotConnected = errors.New("kafka producer is not connected")
	ErrConsumerDisconnected = errors.New("kafka consumer lost connection")
	ErrUnsupportedSASL      = errors.New("unsupported SASL mechanism")

	ErrTruncateNotConfirmed = errors.New("truncate is not confirmed, set ETL_TRUNCATE_CONFIRM=yes")
)

type ErrorServer struct {
	Message string `json:"message"`
}

func (e *ErrorServer) Error() string {
	return e.Message
}

/*
NewErrorServer
Функция принимает и "nil ошибку":
при получении nil отдаём клиенту success
*/
func NewErrorServer(err error) ErrorServer {
	if err == nil {
		return ErrorServer{
			Message: "success",
		}
	}

	return ErrorServer{
		Message: err.Error(),
	}
}

func SendErrorTo(w http.ResponseWriter, err error, statusCode int, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if errEncode := json.NewEncoder(w).Encode(NewErrorServer(err)); errEncode != nil {
		logger.Error(errEncode)
	}
}
