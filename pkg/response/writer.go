package response

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/errors"
	"github.com/kart-io/harbor/pkg/validator"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Writer writes responses to an http.ResponseWriter.
type Writer struct {
	w         http.ResponseWriter
	requestID string
	lang      string
}

// NewWriter creates a new response writer.
func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{w: w}
}

// WithRequestID sets the request ID for responses.
func (w *Writer) WithRequestID(requestID string) *Writer {
	w.requestID = requestID
	return w
}

// WithLang sets the language for error messages.
func (w *Writer) WithLang(lang string) *Writer {
	w.lang = lang
	return w
}

// OK sends a successful response with data.
func (w *Writer) OK(data interface{}) {
	w.Send(Success(data))
}

// Fail sends an error response using Errno.
func (w *Writer) Fail(e *errors.Errno) {
	w.Send(ErrWithLang(e, w.lang))
}

// FailWithError converts a standard error and sends it.
func (w *Writer) FailWithError(err error) {
	w.Fail(errors.FromError(err))
}

// Send encodes r with sonic and writes it with its HTTP status.
func (w *Writer) Send(r *Response) {
	if w.requestID != "" {
		r.RequestID = w.requestID
	}
	body, err := sonic.Marshal(r)
	if err != nil {
		logger.Errorw("Failed to encode response", "code", r.Code, "error", err.Error())
		http.Error(w.w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.w.Header().Set("Content-Type", contentTypeJSON)
	w.w.WriteHeader(r.HTTPStatus())
	_, _ = w.w.Write(body)
}

// OK sends a successful response on a gin context.
func OK(c *gin.Context, data interface{}) {
	from(c).OK(data)
}

// Fail sends an error response on a gin context and aborts the chain.
func Fail(c *gin.Context, e *errors.Errno) {
	from(c).Fail(e)
	c.Abort()
}

func from(c *gin.Context) *Writer {
	return NewWriter(c.Writer).
		WithRequestID(c.GetHeader("X-Request-ID")).
		WithLang(Lang(c.Request))
}

// Lang returns the language preference from the lang query parameter or the
// Accept-Language header.
func Lang(r *http.Request) string {
	if r == nil {
		return validator.LangEN
	}
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return lang
	}
	// Format: zh-CN,zh;q=0.9,en;q=0.8
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		first := strings.TrimSpace(strings.Split(strings.Split(accept, ",")[0], ";")[0])
		if strings.HasPrefix(first, "zh") {
			return validator.LangZH
		}
	}
	return validator.LangEN
}
