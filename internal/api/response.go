package api

import (
	"github.com/gofiber/fiber/v2"
)

// Response builder functions for Fiber handlers.
// These provide a unified interface for API responses.

// RespondSuccess sends a successful response with data.
func RespondSuccess(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// RespondAccepted sends a 202 Accepted response with data.
func RespondAccepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// RespondMessage sends a successful response with a message only.
func RespondMessage(c *fiber.Ctx, message string) error {
	return c.JSON(fiber.Map{
		"success": true,
		"message": message,
	})
}

// Error response functions - all use the unified error format.

// RespondError sends an error response with a custom status code.
func RespondError(c *fiber.Ctx, status int, code, message, details string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// RespondBadRequest sends a 400 Bad Request error.
func RespondBadRequest(c *fiber.Ctx, message, details string) error {
	return RespondError(c, fiber.StatusBadRequest, ErrCodeBadRequest, message, details)
}

// RespondNotFound sends a 404 Not Found error.
func RespondNotFound(c *fiber.Ctx, resource, details string) error {
	message := resource + " not found"
	return RespondError(c, fiber.StatusNotFound, ErrCodeNotFound, message, details)
}

// RespondConflict sends a 409 Conflict error.
func RespondConflict(c *fiber.Ctx, message, details string) error {
	return RespondError(c, fiber.StatusConflict, ErrCodeConflict, message, details)
}

// RespondInternalError sends a 500 Internal Server Error.
func RespondInternalError(c *fiber.Ctx, message, details string) error {
	return RespondError(c, fiber.StatusInternalServerError, ErrCodeInternalServer, message, details)
}
