package reconcileservice

import "stocksync/internal/domain"

// DiffLine é um delta de quantidade de uma linha entre dois snapshots.
type DiffLine struct {
	Product  domain.ProductIdentity
	Storage  *string
	Quantity int  // Sempre positivo: o sinal está na lista (aumento/redução)
	Removed  bool // true quando a linha sumiu por completo do snapshot atual
}

// DiffResult separa os deltas em aumentos e reduções de reserva.
type DiffResult struct {
	Increases []DiffLine
	Decreases []DiffLine
}

// Diff computa os deltas por produto entre o snapshot anterior e o atual da
// coleção de produtos. O casamento é pela 4-tupla estrita
// (produto, oferta, variação, modificação): nil só casa com nil.
//
//   - linha casada com quantidades iguais: nenhuma ação;
//   - atual > anterior: aumento pela diferença;
//   - atual < anterior: redução pela diferença;
//   - linha só no atual: linha nova, aumento integral;
//   - linha só no anterior: linha removida, redução integral (Removed=true).
func Diff(previous, current []domain.StockProduct) DiffResult {
	remaining := make([]domain.StockProduct, len(previous))
	copy(remaining, previous)

	var result DiffResult

	for _, line := range current {
		matched := -1
		for i, prev := range remaining {
			if line.Product.Equal(prev.Product) {
				matched = i
				break
			}
		}

		if matched < 0 {
			// Linha nova: aumento integral
			result.Increases = append(result.Increases, DiffLine{
				Product:  line.Product,
				Storage:  line.Storage,
				Quantity: line.Quantity,
			})
			continue
		}

		prev := remaining[matched]
		remaining = append(remaining[:matched], remaining[matched+1:]...)

		switch {
		case line.Quantity > prev.Quantity:
			result.Increases = append(result.Increases, DiffLine{
				Product:  line.Product,
				Storage:  line.Storage,
				Quantity: line.Quantity - prev.Quantity,
			})
		case line.Quantity < prev.Quantity:
			result.Decreases = append(result.Decreases, DiffLine{
				Product:  line.Product,
				Storage:  prev.Storage,
				Quantity: prev.Quantity - line.Quantity,
			})
		}
	}

	// Linhas do anterior sem par no atual: removidas, redução integral
	for _, prev := range remaining {
		result.Decreases = append(result.Decreases, DiffLine{
			Product:  prev.Product,
			Storage:  prev.Storage,
			Quantity: prev.Quantity,
			Removed:  true,
		})
	}

	return result
}
