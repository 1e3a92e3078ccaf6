package forms

import (
	"errors"
	"fmt"
	"net/http"
)

// -------------- Error model & mapping --------------

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT" // line_id の重複など
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeUnprocessable   Code = "UNPROCESSABLE_ENTITY"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrInvalid(msg string) *APIError       { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError      { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError      { return &APIError{Code: CodeConflict, Message: msg} }
func ErrUnauthorized(msg string) *APIError  { return &APIError{Code: CodeUnauthorized, Message: msg} }
func ErrUnprocessable(msg string) *APIError { return &APIError{Code: CodeUnprocessable, Message: msg} }
func ErrInternal(msg string) *APIError      { return &APIError{Code: CodeInternal, Message: msg} }

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		case CodeUnauthorized:
			return http.StatusUnauthorized
		case CodeUnprocessable:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// 500 は内部のメッセージをそのまま返さない
func errorFromErr(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeInternal, "internal error")
}
