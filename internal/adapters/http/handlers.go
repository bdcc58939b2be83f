package http

import (
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SearchHandler runs the merged product/organization/user search.
func SearchHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := c.Query("q")
		if len(query) > 200 {
			return errBadRequest(c, "query too long (max 200 characters)")
		}

		resp, err := deps.Search.Search(c.UserContext(), query)
		if err != nil {
			return failWith(c, err, fiber.StatusServiceUnavailable, map[int]string{
				fiber.StatusServiceUnavailable: "search is temporarily unavailable",
			})
		}

		c.Set("Cache-Control", "private, max-age=30")
		return c.JSON(resp)
	}
}

// ListPresencesHandler returns users currently sharing their location,
// excluding the caller.
func ListPresencesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		self := IdentityFrom(c)
		filter := domain.PresenceFilter{ActiveOnly: c.QueryBool("active", true)}
		if self != nil {
			filter.ExcludeUserID = self.UserID
		}

		records, err := deps.Presence.List(c.UserContext(), filter)
		if err != nil {
			return failWith(c, err, fiber.StatusInternalServerError, map[int]string{
				fiber.StatusInternalServerError: "could not load presences",
			})
		}

		users := make([]domain.UserPresence, 0, len(records))
		for _, r := range records {
			if !filter.Match(r) {
				continue
			}
			users = append(users, r.ToPresence(filter.ExcludeUserID))
		}
		sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

		// Apply offset/limit pagination on the full list
		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 100)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		total := len(users)
		if offset >= total {
			users = []domain.UserPresence{}
		} else {
			end := offset + limit
			if end > total {
				end = total
			}
			users = users[offset:end]
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		c.Set("Cache-Control", "no-store")
		return c.JSON(PaginatedResponse{Data: users, Pagination: pg})
	}
}

// GetPresenceHandler returns one user's presence.
func GetPresenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		rec, err := deps.Presence.Get(c.UserContext(), id)
		if err == nil && rec == nil {
			err = domain.ErrNotFound
		}
		if err != nil {
			return failWith(c, err, fiber.StatusInternalServerError, map[int]string{
				fiber.StatusNotFound:            "presence not found",
				fiber.StatusInternalServerError: "could not load presence",
			})
		}

		selfID := ""
		if self := IdentityFrom(c); self != nil {
			selfID = self.UserID
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(rec.ToPresence(selfID))
	}
}

type pointRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

func (p pointRequest) position() domain.Position {
	return domain.Position{Latitude: p.Latitude, Longitude: p.Longitude}
}

// RouteRequest is the body of POST /v1/routes.
type RouteRequest struct {
	Origin      *pointRequest `json:"origin" validate:"required"`
	Destination *pointRequest `json:"destination" validate:"required"`
}

// PlanRouteHandler computes a formatted route between two points.
func PlanRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req RouteRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return errBadRequest(c, "origin and destination need valid latitude and longitude")
		}

		planner := usecases.NewRoutePlanner(deps.Routing)
		route, err := planner.Plan(c.UserContext(), req.Origin.position(), req.Destination.position())
		if err != nil {
			return failWith(c, err, fiber.StatusInternalServerError, map[int]string{
				fiber.StatusNotFound:            "no route between these points",
				fiber.StatusServiceUnavailable:  "routing is temporarily unavailable",
				fiber.StatusInternalServerError: "route planning failed",
			})
		}

		return c.JSON(usecases.FormatRoute(route))
	}
}
