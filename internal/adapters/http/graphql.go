package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/usecases"
)

// buildSchema creates the read-only GraphQL schema over mounted sessions.
// Field names follow the JSON tags, so the default resolver handles structs.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	coordinateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Coordinate",
		Fields: graphql.Fields{
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
		},
	})

	regionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Region",
		Fields: graphql.Fields{
			"center":         &graphql.Field{Type: coordinateType},
			"latitude_span":  &graphql.Field{Type: graphql.Float},
			"longitude_span": &graphql.Field{Type: graphql.Float},
		},
	})

	markerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Marker",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"position":   &graphql.Field{Type: coordinateType},
			"label":      &graphql.Field{Type: graphql.String},
			"icon_kind":  &graphql.Field{Type: graphql.String},
			"tint_color": &graphql.Field{Type: graphql.String},
		},
	})

	polylineType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Polyline",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"points":       &graphql.Field{Type: graphql.NewList(coordinateType)},
			"stroke_color": &graphql.Field{Type: graphql.String},
			"stroke_width": &graphql.Field{Type: graphql.Float},
		},
	})

	circleType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Circle",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"center":        &graphql.Field{Type: coordinateType},
			"radius_meters": &graphql.Field{Type: graphql.Float},
			"fill_color":    &graphql.Field{Type: graphql.String},
			"stroke_color":  &graphql.Field{Type: graphql.String},
			"stroke_width":  &graphql.Field{Type: graphql.Float},
		},
	})

	// overlaysOf resolves the declared overlays of the session in p.Source.
	overlaysOf := func(p graphql.ResolveParams) (overlaySet, error) {
		info, _ := p.Source.(usecases.SessionInfo)
		b, err := deps.Maps.Get(info.ID)
		if err != nil {
			return overlaySet{}, err
		}
		return groupOverlays(b.Overlays()), nil
	}

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.String},
			"state":          &graphql.Field{Type: graphql.String},
			"overlays":       &graphql.Field{Type: graphql.Int, Description: "Number of declared overlays"},
			"pending":        &graphql.Field{Type: graphql.Int},
			"fleet_tracking": &graphql.Field{Type: graphql.Boolean},
			"restore_key":    &graphql.Field{Type: graphql.String},
			"mounted_at": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					info, _ := p.Source.(usecases.SessionInfo)
					return info.MountedAt.Format("2006-01-02T15:04:05Z07:00"), nil
				},
			},
			"camera": &graphql.Field{
				Type: regionType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					info, _ := p.Source.(usecases.SessionInfo)
					b, err := deps.Maps.Get(info.ID)
					if err != nil {
						return nil, err
					}
					if r, ok := b.Camera(); ok {
						return r, nil
					}
					return nil, nil
				},
			},
			"markers": &graphql.Field{
				Type: graphql.NewList(markerType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					set, err := overlaysOf(p)
					return set.Markers, err
				},
			},
			"polylines": &graphql.Field{
				Type: graphql.NewList(polylineType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					set, err := overlaysOf(p)
					return set.Polylines, err
				},
			},
			"circles": &graphql.Field{
				Type: graphql.NewList(circleType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					set, err := overlaysOf(p)
					return set.Circles, err
				},
			},
		},
	})

	geofenceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Geofence",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"name":          &graphql.Field{Type: graphql.String},
			"center":        &graphql.Field{Type: coordinateType},
			"radius_meters": &graphql.Field{Type: graphql.Float},
			"color":         &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"sessions": &graphql.Field{
				Type:        graphql.NewList(sessionType),
				Description: "List mounted map sessions",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Maps.List(), nil
				},
			},
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Get a map session by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					return deps.Maps.Info(id)
				},
			},
			"geofences": &graphql.Field{
				Type:        graphql.NewList(geofenceType),
				Description: "List active geofences",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Geofences == nil {
						return []domain.Geofence{}, nil
					}
					return deps.Geofences.ListActive(p.Context)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
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

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
