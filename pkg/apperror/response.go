package apperror

import (
	"errors"
	"fmt"

	"chroma-rag/config"
	"chroma-rag/pkg/apperror/status"
	"chroma-rag/pkg/logger"

	"github.com/gofiber/fiber/v3"
)

// HeaderRequestID carries the tracking id of a request.
const HeaderRequestID = "X-Request-ID"

// ErrorResponse is the standardized HTTP error payload
type ErrorResponse struct {
	Error      string `json:"error"`
	ErrorCode  string `json:"error_code"`
	TrackingID string `json:"tracking_id,omitempty"`
}

type FiberSuccessMessage struct {
	Code       status.SuccessCode `json:"code"`
	Message    string             `json:"message"`
	TrackingID string             `json:"tracking_id"`
	Data       any                `json:"data"`
}

// Code renders an ErrorCode the way clients see it.
func Code(code status.ErrorCode) string {
	return fmt.Sprintf("AI-%d", code)
}

// TrackingID returns the request id set by the request id middleware, or the one the client sent.
func TrackingID(c fiber.Ctx) string {
	if id := c.GetRespHeader(HeaderRequestID); id != "" {
		return id
	}
	return c.Get(HeaderRequestID)
}

// WriteError logs a structured warning and returns a standardized JSON error
func WriteError(module config.Module, c fiber.Ctx, httpStatus int, code status.ErrorCode, message string) error {
	logger.WithFields(map[string]interface{}{
		"module":        module,
		"status_code":   httpStatus,
		"error_code":    Code(code),
		"error_message": message,
		"http_method":   c.Method(),
		"path":          c.Path(),
		"url":           c.OriginalURL(),
		"ip":            c.IP(),
		"tracking_id":   TrackingID(c),
	}).Warnf("http error")

	return c.Status(httpStatus).JSON(ErrorResponse{
		Error:      message,
		ErrorCode:  Code(code),
		TrackingID: TrackingID(c),
	})
}

func BadRequest(module config.Module, c fiber.Ctx, code status.ErrorCode, message string) error {
	return WriteError(module, c, fiber.StatusBadRequest, code, message)
}

func NotFound(module config.Module, c fiber.Ctx, code status.ErrorCode, message string) error {
	return WriteError(module, c, fiber.StatusNotFound, code, message)
}

func Unavailable(module config.Module, c fiber.Ctx, code status.ErrorCode, err error) error {
	return WriteError(module, c, fiber.StatusServiceUnavailable, code, err.Error())
}

// InternalError reports err with the code it carries, falling back to ErrorCodeInternal.
func InternalError(module config.Module, c fiber.Ctx, err error) error {
	code := status.ErrorCodeInternal
	var coded status.CodedError
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
	}
	return WriteError(module, c, fiber.StatusInternalServerError, code, err.Error())
}

// Success writes a standardized JSON success response
func Success(module config.Module, c fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusOK).JSON(FiberSuccessMessage{
		Code:       status.OK,
		Message:    message,
		TrackingID: TrackingID(c),
		Data:       data,
	})
}

func Created(module config.Module, c fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusCreated).JSON(FiberSuccessMessage{
		Code:       status.Created,
		Message:    message,
		TrackingID: TrackingID(c),
		Data:       data,
	})
}
