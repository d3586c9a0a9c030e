package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/core/service"
)

// ContentTypeProblemJSON is the media type for Problem Details responses.
const ContentTypeProblemJSON = "application/problem+json"

// Problem is an RFC 7807 Problem Details body.
type Problem struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (p Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

func (p Problem) WithDetail(detail string) Problem {
	p.Detail = detail
	return p
}

func (p Problem) WithExtension(key string, value any) Problem {
	extensions := make(map[string]any, len(p.Extensions)+1)
	for k, v := range p.Extensions {
		extensions[k] = v
	}
	extensions[key] = value
	p.Extensions = extensions
	return p
}

var (
	ProblemValidation = Problem{
		Type:   "/problems/validation-error",
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
	}
	ProblemBadRequest = Problem{
		Type:   "/problems/bad-request",
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
	}
	ProblemNotFound = Problem{
		Type:   "/problems/not-found",
		Title:  "Resource Not Found",
		Status: http.StatusNotFound,
	}
	ProblemConflict = Problem{
		Type:   "/problems/conflict",
		Title:  "Conflict",
		Status: http.StatusConflict,
	}
	ProblemUnauthorized = Problem{
		Type:   "/problems/unauthorized",
		Title:  "Unauthorized",
		Status: http.StatusUnauthorized,
	}
	ProblemInternal = Problem{
		Type:   "/problems/internal-error",
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
	}
)

func respondProblem(c *gin.Context, problem Problem) {
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.AbortWithStatusJSON(problem.Status, problem)
}

// problemFor maps service and domain errors onto problem documents. The
// bool is false for errors that should surface as 500.
func problemFor(err error) (Problem, bool) {
	var problem Problem
	if errors.As(err, &problem) {
		return problem, true
	}

	switch {
	case errors.Is(err, domain.ErrInvalidCheckout),
		errors.Is(err, domain.ErrTotalMismatch),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidVariant):
		return ProblemValidation.WithDetail(err.Error()), true
	case errors.Is(err, domain.ErrOrderNotFound):
		return ProblemNotFound.WithDetail("Order not found").WithExtension("resourceType", "order"), true
	case errors.Is(err, domain.ErrProductNotFound):
		return ProblemNotFound.WithDetail("Product not found").WithExtension("resourceType", "product"), true
	case errors.Is(err, domain.ErrInventoryNotFound):
		return ProblemNotFound.WithDetail("Inventory item not found").WithExtension("resourceType", "inventoryItem"), true
	case errors.Is(err, service.ErrDuplicateRequest):
		return ProblemConflict.WithDetail("A request with this idempotency key is already being processed"), true
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInventoryInUse):
		return ProblemConflict.WithDetail(err.Error()), true
	}
	return Problem{}, false
}

// respondError writes the problem for err, hiding unexpected errors behind
// a generic 500 after logging them.
func respondError(c *gin.Context, log logrus.FieldLogger, err error, fallback string) {
	if problem, ok := problemFor(err); ok {
		respondProblem(c, problem)
		return
	}
	log.WithError(err).WithField("path", c.Request.URL.Path).Error(fallback)
	respondProblem(c, ProblemInternal.WithDetail(fallback))
}
