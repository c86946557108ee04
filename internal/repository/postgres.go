// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/boutique-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
var (
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при попытке создать второй заказ с тем же платёжным идентификатором.
	ErrOrderExists = errors.New("order already exists for payment")
	// ErrProfileNotFound возвращается, если профиль пользователя не найден.
	ErrProfileNotFound = errors.New("user profile not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetProduct возвращает товар каталога по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, price::text, has_sizes FROM products WHERE id = $1`,
		id,
	)

	var (
		p        model.Product
		priceRaw string
	)
	err := row.Scan(&p.ID, &p.Name, &priceRaw, &p.HasSizes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	p.Price, err = decimal.NewFromString(priceRaw)
	if err != nil {
		return nil, fmt.Errorf("parse product price: %w", err)
	}

	return &p, nil
}

// CreateOrder сохраняет заказ вместе с позициями в одной транзакции.
// Позиции строятся из снимка корзины; отсутствие любого товара из снимка
// откатывает транзакцию целиком — частично созданный заказ в БД не остаётся.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order, bag model.Bag) (*model.Order, error) {
	if order.OrderNumber == "" {
		order.OrderNumber = newOrderNumber()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (order_number, user_profile_id, full_name, email, phone_number,
		                     country, postcode, town_or_city, street_address1, street_address2, county,
		                     delivery_cost, order_total, grand_total, original_bag, stripe_pid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13::numeric, $14::numeric, $15, $16)
		 RETURNING id, date`,
		order.OrderNumber, order.UserProfileID, order.FullName, order.Email, order.PhoneNumber,
		order.Country, order.Postcode, order.TownOrCity, order.StreetAddress1, order.StreetAddress2, order.County,
		order.DeliveryCost.String(), order.OrderTotal.String(), order.GrandTotal.String(),
		order.OriginalBag, order.StripePID,
	).Scan(&order.ID, &order.Date)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrOrderExists, order.StripePID)
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	order.LineItems = order.LineItems[:0]
	for _, key := range sortedBagKeys(bag) {
		productID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad product id %q", ErrProductNotFound, key)
		}

		entry := bag[key]
		if entry.HasSizes() {
			for _, size := range sortedSizeKeys(entry.BySize) {
				item, err := r.insertLineItem(ctx, tx, order.ID, productID, &size, entry.BySize[size])
				if err != nil {
					return nil, err
				}
				order.LineItems = append(order.LineItems, *item)
			}
		} else {
			item, err := r.insertLineItem(ctx, tx, order.ID, productID, nil, entry.Quantity)
			if err != nil {
				return nil, err
			}
			order.LineItems = append(order.LineItems, *item)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}

func (r *PostgresRepository) insertLineItem(ctx context.Context, tx pgx.Tx, orderID, productID int64, size *string, quantity int) (*model.OrderLineItem, error) {
	var (
		name     string
		priceRaw string
	)
	err := tx.QueryRow(ctx,
		`SELECT name, price::text FROM products WHERE id = $1`,
		productID,
	).Scan(&name, &priceRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("select product: %w", err)
	}

	price, err := decimal.NewFromString(priceRaw)
	if err != nil {
		return nil, fmt.Errorf("parse product price: %w", err)
	}

	item := model.OrderLineItem{
		OrderID:       orderID,
		ProductID:     productID,
		ProductName:   name,
		ProductSize:   size,
		Quantity:      quantity,
		LineItemTotal: price.Mul(decimal.NewFromInt(int64(quantity))),
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO order_line_items (order_id, product_id, product_size, quantity, lineitem_total)
		 VALUES ($1, $2, $3, $4, $5::numeric)
		 RETURNING id`,
		orderID, productID, size, quantity, item.LineItemTotal.String(),
	).Scan(&item.ID)
	if err != nil {
		return nil, fmt.Errorf("insert line item: %w", err)
	}

	return &item, nil
}

// MarkConfirmationSent отмечает, что подтверждение по заказу уже отправлено.
func (r *PostgresRepository) MarkConfirmationSent(ctx context.Context, orderID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET confirmation_sent = TRUE WHERE id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("mark confirmation sent: %w", err)
	}
	return nil
}

// DeleteOrder удаляет заказ; позиции удаляются каскадно.
// Используется как компенсация, когда обработка платежа не может завершиться.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

const orderColumns = `id, order_number, user_profile_id, full_name, email, phone_number,
	country, postcode, town_or_city, street_address1, street_address2, county, date,
	delivery_cost::text, order_total::text, grand_total::text, original_bag, stripe_pid,
	confirmation_sent`

// GetOrderByNumber возвращает заказ с позициями по публичному номеру заказа.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`,
		number,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := r.loadLineItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrderByStripePID возвращает заказ по платёжному идентификатору.
func (r *PostgresRepository) GetOrderByStripePID(ctx context.Context, pid string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE stripe_pid = $1`,
		pid,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment %s", ErrOrderNotFound, pid)
		}
		return nil, fmt.Errorf("get order by payment: %w", err)
	}

	if err := r.loadLineItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// OrderMatch описывает составной ключ поиска заказа при сверке платежа.
type OrderMatch struct {
	FullName       string
	Email          string
	PhoneNumber    *string
	Country        *string
	Postcode       *string
	TownOrCity     *string
	StreetAddress1 *string
	StreetAddress2 *string
	County         *string
	GrandTotal     decimal.Decimal
	OriginalBag    string
	StripePID      string
}

// FindOrder ищет заказ по составному ключу: все текстовые поля сравниваются
// без учёта регистра, NULL и пустая строка считаются равными.
func (r *PostgresRepository) FindOrder(ctx context.Context, m OrderMatch) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE lower(full_name) = lower($1)
		   AND lower(email) = lower($2)
		   AND lower(coalesce(phone_number, '')) = lower(coalesce($3, ''))
		   AND lower(coalesce(country, '')) = lower(coalesce($4, ''))
		   AND lower(coalesce(postcode, '')) = lower(coalesce($5, ''))
		   AND lower(coalesce(town_or_city, '')) = lower(coalesce($6, ''))
		   AND lower(coalesce(street_address1, '')) = lower(coalesce($7, ''))
		   AND lower(coalesce(street_address2, '')) = lower(coalesce($8, ''))
		   AND lower(coalesce(county, '')) = lower(coalesce($9, ''))
		   AND grand_total = $10::numeric
		   AND original_bag = $11
		   AND stripe_pid = $12`,
		m.FullName, m.Email, m.PhoneNumber, m.Country, m.Postcode, m.TownOrCity,
		m.StreetAddress1, m.StreetAddress2, m.County,
		m.GrandTotal.String(), m.OriginalBag, m.StripePID,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment %s", ErrOrderNotFound, m.StripePID)
		}
		return nil, fmt.Errorf("find order: %w", err)
	}

	if err := r.loadLineItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrdersByProfile возвращает историю заказов профиля, без позиций.
func (r *PostgresRepository) GetOrdersByProfile(ctx context.Context, profileID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_profile_id = $1
		 ORDER BY date DESC`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetProfileByUsername возвращает профиль пользователя по имени.
func (r *PostgresRepository) GetProfileByUsername(ctx context.Context, username string) (*model.UserProfile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, default_phone_number, default_street_address1, default_street_address2,
		        default_town_or_city, default_postcode, default_country, default_county, created_at
		 FROM user_profiles
		 WHERE username = $1`,
		username,
	)

	var p model.UserProfile
	err := row.Scan(&p.ID, &p.Username, &p.DefaultPhoneNumber, &p.DefaultStreetAddress1,
		&p.DefaultStreetAddress2, &p.DefaultTownOrCity, &p.DefaultPostcode,
		&p.DefaultCountry, &p.DefaultCounty, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, username)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return &p, nil
}

// UpdateProfileAddress перезаписывает адрес доставки по умолчанию в профиле.
func (r *PostgresRepository) UpdateProfileAddress(ctx context.Context, profileID int64, addr model.ShippingAddress) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE user_profiles
		 SET default_phone_number = $2,
		     default_street_address1 = $3,
		     default_street_address2 = $4,
		     default_town_or_city = $5,
		     default_postcode = $6,
		     default_country = $7,
		     default_county = $8
		 WHERE id = $1`,
		profileID, addr.PhoneNumber, addr.StreetAddress1, addr.StreetAddress2,
		addr.TownOrCity, addr.Postcode, addr.Country, addr.County,
	)
	if err != nil {
		return fmt.Errorf("update profile address: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrProfileNotFound, profileID)
	}

	return nil
}

func (r *PostgresRepository) loadLineItems(ctx context.Context, order *model.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT li.id, li.order_id, li.product_id, p.name, li.product_size, li.quantity, li.lineitem_total::text
		 FROM order_line_items li
		 JOIN products p ON p.id = li.product_id
		 WHERE li.order_id = $1
		 ORDER BY li.id`,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("select line items: %w", err)
	}
	defer rows.Close()

	order.LineItems = nil
	for rows.Next() {
		var (
			item     model.OrderLineItem
			totalRaw string
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.ProductSize, &item.Quantity, &totalRaw); err != nil {
			return fmt.Errorf("scan line item: %w", err)
		}

		item.LineItemTotal, err = decimal.NewFromString(totalRaw)
		if err != nil {
			return fmt.Errorf("parse line item total: %w", err)
		}

		order.LineItems = append(order.LineItems, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o           model.Order
		deliveryRaw string
		totalRaw    string
		grandRaw    string
	)

	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserProfileID, &o.FullName, &o.Email, &o.PhoneNumber,
		&o.Country, &o.Postcode, &o.TownOrCity, &o.StreetAddress1, &o.StreetAddress2, &o.County,
		&o.Date, &deliveryRaw, &totalRaw, &grandRaw, &o.OriginalBag, &o.StripePID,
		&o.ConfirmationSent)
	if err != nil {
		return nil, err
	}

	if o.DeliveryCost, err = decimal.NewFromString(deliveryRaw); err != nil {
		return nil, fmt.Errorf("parse delivery cost: %w", err)
	}
	if o.OrderTotal, err = decimal.NewFromString(totalRaw); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	if o.GrandTotal, err = decimal.NewFromString(grandRaw); err != nil {
		return nil, fmt.Errorf("parse grand total: %w", err)
	}

	return &o, nil
}

func newOrderNumber() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func sortedBagKeys(bag model.Bag) []string {
	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSizeKeys(bySize map[string]int) []string {
	sizes := make([]string, 0, len(bySize))
	for size := range bySize {
		sizes = append(sizes, size)
	}
	sort.Strings(sizes)
	return sizes
}
