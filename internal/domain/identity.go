package domain

// ProductIdentity identifica uma variante de produto pela hierarquia opcional
// de sub-identificadores (oferta -> variação -> modificação).
// Os ponteiros são nil quando o nível não existe para o produto.
type ProductIdentity struct {
	ProductID      string  `json:"product_id"`
	OfferID        *string `json:"offer_id,omitempty"`
	VariationID    *string `json:"variation_id,omitempty"`
	ModificationID *string `json:"modification_id,omitempty"`
}

// Equal compara duas identidades com igualdade estrita:
// nil só é igual a nil, nunca é coagido para um valor presente.
func (p ProductIdentity) Equal(other ProductIdentity) bool {
	if p.ProductID != other.ProductID {
		return false
	}
	return equalID(p.OfferID, other.OfferID) &&
		equalID(p.VariationID, other.VariationID) &&
		equalID(p.ModificationID, other.ModificationID)
}

// equalID compara dois sub-identificadores opcionais.
func equalID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ID é um helper para construir sub-identificadores opcionais em literais.
func ID(v string) *string {
	return &v
}

// Key serializa a identidade de forma determinística, para uso em chaves de
// deduplicação e de cache. Níveis ausentes viram "-" para que a ausência
// nunca colida com um valor presente.
func (p ProductIdentity) Key() string {
	return p.ProductID + "/" + orDash(p.OfferID) + "/" + orDash(p.VariationID) + "/" + orDash(p.ModificationID)
}

func orDash(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
