package domain

import (
	"encoding/json"
	"fmt"
)

// ResultType discriminates the search result union.
type ResultType string

const (
	ResultProduct      ResultType = "product"
	ResultOrganization ResultType = "organization"
	ResultUser         ResultType = "user"
)

// ResultTypes lists the searchable entity types in display order.
var ResultTypes = []ResultType{ResultProduct, ResultOrganization, ResultUser}

// ResultData is the type-specific payload of a SearchResult. Only the
// variants declared in this package implement it.
type ResultData interface {
	resultType() ResultType
}

// ProductData carries product-specific fields.
type ProductData struct {
	Price            float64 `json:"price"`
	Currency         string  `json:"currency,omitempty"`
	OrganizationID   string  `json:"organization_id,omitempty"`
	OrganizationName string  `json:"organization_name,omitempty"`
}

func (ProductData) resultType() ResultType { return ResultProduct }

// OrganizationData carries organization-specific fields.
type OrganizationData struct {
	Category string    `json:"category,omitempty"`
	Location *Position `json:"location,omitempty"`
}

func (OrganizationData) resultType() ResultType { return ResultOrganization }

// UserData carries user-specific fields.
type UserData struct {
	Username string    `json:"username,omitempty"`
	Location *Position `json:"location,omitempty"`
	IsActive bool      `json:"is_active"`
}

func (UserData) resultType() ResultType { return ResultUser }

// SearchResult is one tagged search hit.
type SearchResult struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Image       string     `json:"image,omitempty"`
	Description string     `json:"description,omitempty"`
	Data        ResultData `json:"data"`
}

// NewSearchResult builds a result whose discriminator always matches its payload.
func NewSearchResult(id, name, image, description string, data ResultData) SearchResult {
	return SearchResult{
		Type:        data.resultType(),
		ID:          id,
		Name:        name,
		Image:       image,
		Description: description,
		Data:        data,
	}
}

// UnmarshalJSON decodes the payload according to the type discriminator.
func (r *SearchResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type        ResultType      `json:"type"`
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Image       string          `json:"image"`
		Description string          `json:"description"`
		Data        json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var data ResultData
	switch raw.Type {
	case ResultProduct:
		var d ProductData
		if err := decodeData(raw.Data, &d); err != nil {
			return err
		}
		data = d
	case ResultOrganization:
		var d OrganizationData
		if err := decodeData(raw.Data, &d); err != nil {
			return err
		}
		data = d
	case ResultUser:
		var d UserData
		if err := decodeData(raw.Data, &d); err != nil {
			return err
		}
		data = d
	default:
		return fmt.Errorf("unknown search result type %q", raw.Type)
	}

	*r = SearchResult{
		Type:        raw.Type,
		ID:          raw.ID,
		Name:        raw.Name,
		Image:       raw.Image,
		Description: raw.Description,
		Data:        data,
	}
	return nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Location returns the mappable position of the result, if any.
func (r SearchResult) Location() *Position {
	switch d := r.Data.(type) {
	case OrganizationData:
		return d.Location
	case UserData:
		return d.Location
	}
	return nil
}

// SearchResponse is the merged outcome of one query.
type SearchResponse struct {
	Query           string             `json:"query"`
	Results         []SearchResult     `json:"results"`
	Counts          map[ResultType]int `json:"counts"`
	ShowSuggestions bool               `json:"show_suggestions"`
}

// Product is a catalog listing as returned by the record store.
type Product struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	Image          string  `json:"image,omitempty"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency,omitempty"`
	OrganizationID string  `json:"organization_id,omitempty"`
}

// Organization is a seller or campaign owner.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Logo        string    `json:"logo,omitempty"`
	Category    string    `json:"category,omitempty"`
	Location    *Position `json:"location,omitempty"`
}

// UserProfile is the public part of a user account.
type UserProfile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Location    *Position `json:"location,omitempty"`
	IsActive    bool      `json:"is_active"`
}
