// Package bag реализует подсчёт стоимости корзины и стоимости доставки.
package bag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/boutique-system/internal/model"
	"github.com/mmeshcher/boutique-system/internal/repository"
)

// ProductGetter описывает контракт поиска товара по идентификатору.
type ProductGetter interface {
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
}

// Config содержит параметры расчёта доставки.
type Config struct {
	FreeDeliveryThreshold      decimal.Decimal
	StandardDeliveryPercentage decimal.Decimal
}

// Item — одна оценённая позиция корзины: пара (товар, размер).
type Item struct {
	ProductID int64
	Product   *model.Product
	Size      string
	Quantity  int
	Total     decimal.Decimal
}

// Summary содержит итоги по корзине для отображения и для создания платежа.
type Summary struct {
	Items             []Item
	ProductCount      int
	Total             decimal.Decimal
	Delivery          decimal.Decimal
	FreeDeliveryDelta decimal.Decimal
	GrandTotal        decimal.Decimal
}

// Pricer считает итоги корзины по текущим ценам каталога.
type Pricer struct {
	products ProductGetter
	cfg      Config
}

// NewPricer создаёт калькулятор корзины.
func NewPricer(products ProductGetter, cfg Config) *Pricer {
	return &Pricer{products: products, cfg: cfg}
}

// Summarize оценивает все записи корзины и считает доставку.
// Записи с отсутствующим в каталоге товаром пропускаются: удалённый товар
// не должен ломать отображение корзины целиком.
func (p *Pricer) Summarize(ctx context.Context, bag model.Bag) (*Summary, error) {
	s := &Summary{
		Total:             decimal.Zero,
		Delivery:          decimal.Zero,
		FreeDeliveryDelta: decimal.Zero,
	}

	for _, key := range sortedKeys(bag) {
		productID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}

		product, err := p.products.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				continue
			}
			return nil, fmt.Errorf("get product %d: %w", productID, err)
		}

		entry := bag[key]
		if entry.HasSizes() {
			for _, size := range sortedSizes(entry.BySize) {
				qty := entry.BySize[size]
				s.addItem(Item{
					ProductID: productID,
					Product:   product,
					Size:      size,
					Quantity:  qty,
					Total:     lineTotal(product.Price, qty),
				})
			}
		} else {
			s.addItem(Item{
				ProductID: productID,
				Product:   product,
				Quantity:  entry.Quantity,
				Total:     lineTotal(product.Price, entry.Quantity),
			})
		}
	}

	if s.Total.LessThan(p.cfg.FreeDeliveryThreshold) {
		s.Delivery = s.Total.Mul(p.cfg.StandardDeliveryPercentage).Div(decimal.NewFromInt(100))
		s.FreeDeliveryDelta = p.cfg.FreeDeliveryThreshold.Sub(s.Total)
	}

	s.GrandTotal = s.Total.Add(s.Delivery)

	return s, nil
}

func (s *Summary) addItem(item Item) {
	s.Items = append(s.Items, item)
	s.ProductCount += item.Quantity
	s.Total = s.Total.Add(item.Total)
}

func lineTotal(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

func sortedKeys(bag model.Bag) []string {
	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseInt(keys[i], 10, 64)
		b, errB := strconv.ParseInt(keys[j], 10, 64)
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	return keys
}

func sortedSizes(bySize map[string]int) []string {
	sizes := make([]string, 0, len(bySize))
	for size := range bySize {
		sizes = append(sizes, size)
	}
	sort.Strings(sizes)
	return sizes
}
