package http_wrappers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/logging"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/pkg/api"
)

const maxBodyBytes = 4 << 20

// ReqWrapper adapts a net/http request.
type ReqWrapper struct {
	Request *http.Request
}

func NewRequestWrapper(r *http.Request) *ReqWrapper {
	return &ReqWrapper{Request: r}
}

func (r *ReqWrapper) Method() string {
	return r.Request.Method
}

func (r *ReqWrapper) URI() string {
	return r.Request.URL.RequestURI()
}

func (r *ReqWrapper) Header(key string) string {
	return r.Request.Header.Get(key)
}

func (r *ReqWrapper) SetHeader(key string, value string) {
	r.Request.Header.Set(key, value)
}

func (r *ReqWrapper) Path() string {
	return r.Request.URL.Path
}

func (r *ReqWrapper) Query(key string) []string {
	return r.Request.URL.Query()[key]
}

func (r *ReqWrapper) BodyAsBytes() ([]byte, error) {
	if r.Request.Body == nil {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Request.Body, maxBodyBytes))
}

func (r *ReqWrapper) PathValue(name string) string {
	return r.Request.PathValue(name)
}

// RespWrapper adapts a net/http response writer. Errors are written as the JSON error
// body, every response is logged with the request fields of the execution context.
type RespWrapper struct {
	w   http.ResponseWriter
	ctx *executioncontext.ExecutionContext
}

func NewRespWrapper(w http.ResponseWriter, ctx *executioncontext.ExecutionContext) *RespWrapper {
	return &RespWrapper{w: w, ctx: ctx}
}

// Error writes any error, errors that are not service errors become UnknownError.
func (r *RespWrapper) Error(err error, requestId string) {
	var se abstractions.ServiceError
	if errors.As(err, &se) {
		r.ErrorWithMessageCode(requestId, se.MessageCode(), se.MessageParams()...)
		return
	}
	r.ErrorWithMessageCode(requestId, messages.UnknownError, "Error", err.Error())
}

func (r *RespWrapper) ErrorWithMessageCode(requestId string, messageCode *messages.MessageCode, messageParams ...any) {
	message := messages.GetErrorMessage(messageCode, messageParams...)
	body, err := json.Marshal(api.Error{
		MessageCode: messageCode.GetID(),
		Message:     message,
		Trace:       requestId,
	})
	if err != nil {
		body = []byte(`{"message_code":"INTERNAL_SERVER_ERROR"}`)
	}
	header := r.w.Header()
	header.Del("Content-Length")
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("X-Content-Type-Options", "nosniff")
	r.w.WriteHeader(messageCode.GetCode())
	_, _ = r.w.Write(body)

	logging.LogRequestFailed(r.ctx, messageCode.GetCode(), message)
}

func (r *RespWrapper) SetHeader(key string, value string) {
	r.w.Header().Set(key, value)
}

func (r *RespWrapper) DeleteHeader(key string) {
	r.w.Header().Del(key)
}

func (r *RespWrapper) SetStatusCode(code int) {
	r.w.WriteHeader(code)
}

func (r *RespWrapper) Write(buf []byte) (int, error) {
	return r.w.Write(buf)
}

func (r *RespWrapper) WriteJSON(v any, code int) {
	body, err := json.Marshal(v)
	if err != nil {
		r.ErrorWithMessageCode(r.ctx.RequestID, messages.InternalServerError, "Error", err.Error())
		return
	}
	r.w.Header().Set("Content-Type", "application/json")
	r.w.WriteHeader(code)
	_, _ = r.w.Write(body)

	logging.LogRequestSuccess(r.ctx, code, nil)
}

// StartStream lifts the write deadline of the server for this response. It fails
// when no writer in the chain can flush.
func (r *RespWrapper) StartStream() error {
	if !canFlush(r.w) {
		return http.ErrNotSupported
	}
	if err := http.NewResponseController(r.w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (r *RespWrapper) Flush() error {
	return http.NewResponseController(r.w).Flush()
}

func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}
