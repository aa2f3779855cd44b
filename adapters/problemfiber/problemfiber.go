// Package problemfiber adapts the problem interceptor to Fiber, which
// does not speak net/http: errors returned from Fiber handlers are
// rendered through the interceptor and written on the Fiber context.
package problemfiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/apicompat/problem"
	"github.com/apicompat/problem/middleware"
)

// ErrorHandler returns a fiber.ErrorHandler for the app config:
//
//	app := fiber.New(fiber.Config{
//		ErrorHandler: problemfiber.ErrorHandler(interceptor),
//	})
func ErrorHandler(interceptor *middleware.Interceptor) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		rendered := interceptor.RenderError(middleware.RenderInput{
			UserAgent:  c.Get(fiber.HeaderUserAgent),
			Accept:     c.Get(fiber.HeaderAccept),
			ClientID:   c.Get(middleware.HeaderClientID),
			APIVersion: c.Get(middleware.HeaderAPIVersion),
			Instance:   c.Path(),
		}, classify(err))

		c.Set(fiber.HeaderContentType, rendered.ContentType)
		if rendered.Deprecation != "" {
			c.Set("Deprecation", rendered.Deprecation)
		}
		return c.Status(rendered.Status).Send(rendered.Body)
	}
}

// classify maps Fiber's own status errors onto fault categories so
// e.g. fiber.ErrNotFound renders as a 404 problem rather than a 500.
func classify(err error) error {
	if _, tagged := problem.AsFault(err); tagged {
		return err
	}

	var fiberErr *fiber.Error
	if !errors.As(err, &fiberErr) {
		return err
	}

	var fault problem.Fault
	switch fiberErr.Code {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		fault = problem.FaultInvalidInput
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		fault = problem.FaultNotFound
	case fiber.StatusUnauthorized:
		fault = problem.FaultUnauthorized
	case fiber.StatusForbidden:
		fault = problem.FaultForbidden
	case fiber.StatusConflict:
		fault = problem.FaultConflict
	case fiber.StatusTooManyRequests:
		fault = problem.FaultRateLimited
	default:
		fault = problem.FaultInternal
	}
	return &problem.FaultError{Fault: fault, Err: err}
}
