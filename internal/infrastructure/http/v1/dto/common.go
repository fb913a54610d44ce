// Package dto provides the request and response bodies of the HTTP API.
package dto

import (
	"costengine/internal/core/id"
)

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse never renders a null item list.
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// LimitQuery bounds history listings.
type LimitQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// WarningResponse carries a non-fatal condition next to a result.
type WarningResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// orNew returns v, or a fresh identifier when v was omitted.
func orNew(v *id.ID) id.ID {
	if v == nil || id.IsNil(*v) {
		return id.New()
	}
	return *v
}
