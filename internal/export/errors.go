package export

import (
	"fmt"
	"net/http"
)

// Error はクライアントに返すエラーコードとメッセージを保持します。
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus はレスポンスに使うステータスコードを返します。
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if e.Code == "LIMIT_EXCEEDED" {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func notFound(message string, err error) *Error {
	return &Error{Code: "NOT_FOUND", Message: message, Status: http.StatusNotFound, Err: err}
}
