package domain

import "strings"

// Category groups tasks. Names are not unique per user.
type Category struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

type NewCategory struct {
	Name   string `json:"name" validate:"required,max=100"`
	UserID string `json:"userId" validate:"required"`
}

func (n NewCategory) Normalize() NewCategory {
	n.Name = strings.TrimSpace(n.Name)
	return n
}
