package model

import "github.com/shopspring/decimal"

// CategoryPatch перечисляет изменяемые поля категории. nil означает «не менять».
type CategoryPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

// IsEmpty сообщает, что патч ничего не меняет.
func (p CategoryPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Active == nil && p.Position == nil
}

// ProductPatch перечисляет изменяемые поля товара. nil означает «не менять».
// Остаток в патч не входит: он пересчитывается только по единицам товара.
type ProductPatch struct {
	CategoryID  *int64           `json:"category_id,omitempty"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Active      *bool            `json:"active,omitempty"`
	Position    *int             `json:"position,omitempty"`
}

// IsEmpty сообщает, что патч ничего не меняет.
func (p ProductPatch) IsEmpty() bool {
	return p.CategoryID == nil && p.Name == nil && p.Description == nil &&
		p.Price == nil && p.Active == nil && p.Position == nil
}

// ProductFilter задаёт выборку товаров.
type ProductFilter struct {
	CategoryID *int64
	ActiveOnly bool
}
