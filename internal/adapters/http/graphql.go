package http

import (
	"context"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

type gqlIdentityKey struct{}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	positionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Position",
		Fields: graphql.Fields{
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
		},
	})

	searchResultType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SearchResult",
		Fields: graphql.Fields{
			"type":              &graphql.Field{Type: graphql.String},
			"id":                &graphql.Field{Type: graphql.String},
			"name":              &graphql.Field{Type: graphql.String},
			"image":             &graphql.Field{Type: graphql.String},
			"description":       &graphql.Field{Type: graphql.String},
			"location":          &graphql.Field{Type: positionType},
			"price":             &graphql.Field{Type: graphql.Float},
			"currency":          &graphql.Field{Type: graphql.String},
			"organization_name": &graphql.Field{Type: graphql.String},
			"category":          &graphql.Field{Type: graphql.String},
			"username":          &graphql.Field{Type: graphql.String},
			"is_active":         &graphql.Field{Type: graphql.Boolean},
		},
	})

	searchResponseType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SearchResponse",
		Fields: graphql.Fields{
			"query":              &graphql.Field{Type: graphql.String},
			"show_suggestions":   &graphql.Field{Type: graphql.Boolean},
			"results":            &graphql.Field{Type: graphql.NewList(searchResultType)},
			"product_count":      &graphql.Field{Type: graphql.Int},
			"organization_count": &graphql.Field{Type: graphql.Int},
			"user_count":         &graphql.Field{Type: graphql.Int},
		},
	})

	presenceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Presence",
		Fields: graphql.Fields{
			"user_id":      &graphql.Field{Type: graphql.String},
			"display_name": &graphql.Field{Type: graphql.String},
			"avatar_url":   &graphql.Field{Type: graphql.String},
			"position":     &graphql.Field{Type: positionType},
			"is_active":    &graphql.Field{Type: graphql.Boolean},
			"last_updated": &graphql.Field{Type: graphql.DateTime},
		},
	})

	stepType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RouteStep",
		Fields: graphql.Fields{
			"instruction":   &graphql.Field{Type: graphql.String},
			"distance":      &graphql.Field{Type: graphql.Float},
			"duration":      &graphql.Field{Type: graphql.Float},
			"distance_text": &graphql.Field{Type: graphql.String},
			"duration_text": &graphql.Field{Type: graphql.String},
		},
	})

	routeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Route",
		Fields: graphql.Fields{
			"distance":      &graphql.Field{Type: graphql.Float},
			"duration":      &graphql.Field{Type: graphql.Float},
			"distance_text": &graphql.Field{Type: graphql.String},
			"duration_text": &graphql.Field{Type: graphql.String},
			"steps":         &graphql.Field{Type: graphql.NewList(stepType)},
			"geometry":      &graphql.Field{Type: graphql.NewList(positionType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"search": &graphql.Field{
				Type:        searchResponseType,
				Description: "Search products, organizations and users",
				Args: graphql.FieldConfigArgument{
					"query": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					resp, err := deps.Search.Search(p.Context, p.Args["query"].(string))
					if err != nil {
						return nil, err
					}
					return searchResponseMap(resp), nil
				},
			},
			"presences": &graphql.Field{
				Type:        graphql.NewList(presenceType),
				Description: "Users currently sharing their location",
				Args: graphql.FieldConfigArgument{
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					selfID, _ := p.Context.Value(gqlIdentityKey{}).(string)
					filter := domain.PresenceFilter{ActiveOnly: true, ExcludeUserID: selfID}
					records, err := deps.Presence.List(p.Context, filter)
					if err != nil {
						return nil, err
					}
					users := make([]domain.UserPresence, 0, len(records))
					for _, r := range records {
						if filter.Match(r) {
							users = append(users, r.ToPresence(selfID))
						}
					}
					sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
					return page(users, p.Args["offset"].(int), p.Args["limit"].(int)), nil
				},
			},
			"route": &graphql.Field{
				Type:        routeType,
				Description: "Plan a route between two points",
				Args: graphql.FieldConfigArgument{
					"origin_lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"origin_lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"dest_lat":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"dest_lon":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					origin := domain.Position{Latitude: p.Args["origin_lat"].(float64), Longitude: p.Args["origin_lon"].(float64)}
					dest := domain.Position{Latitude: p.Args["dest_lat"].(float64), Longitude: p.Args["dest_lon"].(float64)}
					route, err := usecases.NewRoutePlanner(deps.Routing).Plan(p.Context, origin, dest)
					if err != nil {
						if errors.Is(err, domain.ErrNotFound) {
							return nil, nil
						}
						return nil, err
					}
					return routeMap(usecases.FormatRoute(route)), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// routeMap spells out the steps, whose embedded fields the default resolver
// does not see.
func routeMap(r *domain.FormattedRoute) map[string]interface{} {
	steps := make([]map[string]interface{}, 0, len(r.Steps))
	for _, st := range r.Steps {
		steps = append(steps, map[string]interface{}{
			"instruction":   st.Instruction,
			"distance":      st.Distance,
			"duration":      st.Duration,
			"distance_text": st.DistanceText,
			"duration_text": st.DurationText,
		})
	}
	return map[string]interface{}{
		"distance":      r.Distance,
		"duration":      r.Duration,
		"distance_text": r.DistanceText,
		"duration_text": r.DurationText,
		"steps":         steps,
		"geometry":      r.Geometry,
	}
}

// searchResponseMap flattens the tagged result union for GraphQL.
func searchResponseMap(resp *domain.SearchResponse) map[string]interface{} {
	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		m := map[string]interface{}{
			"type":        string(r.Type),
			"id":          r.ID,
			"name":        r.Name,
			"image":       r.Image,
			"description": r.Description,
			"location":    r.Location(),
		}
		switch d := r.Data.(type) {
		case domain.ProductData:
			m["price"] = d.Price
			m["currency"] = d.Currency
			m["organization_name"] = d.OrganizationName
		case domain.OrganizationData:
			m["category"] = d.Category
		case domain.UserData:
			m["username"] = d.Username
			m["is_active"] = d.IsActive
		}
		results = append(results, m)
	}
	return map[string]interface{}{
		"query":              resp.Query,
		"show_suggestions":   resp.ShowSuggestions,
		"results":            results,
		"product_count":      resp.Counts[domain.ResultProduct],
		"organization_count": resp.Counts[domain.ResultOrganization],
		"user_count":         resp.Counts[domain.ResultUser],
	}
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		ctx := c.UserContext()
		if id := IdentityFrom(c); id != nil {
			ctx = context.WithValue(ctx, gqlIdentityKey{}, id.UserID)
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        ctx,
		})

		return c.JSON(result)
	}
}
