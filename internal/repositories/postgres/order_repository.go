package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

const orderColumns = `orders.id, orders.order_number, orders.customer_id, orders.customer_name, orders.customer_email,
	orders.customer_phone, orders.shipping_address, orders.shipping_address_json, orders.subtotal, orders.shipping_cost,
	orders.discount, orders.total, orders.currency, orders.payment_method, orders.payment_status, orders.order_status,
	orders.payment_reservation_id, orders.provider_payment_id, orders.created_at, orders.updated_at`

const orderItemColumns = `id, order_id, product_id, product_name, product_image, unit_price, quantity,
	customization, customization_images, requires_design, created_at`

// OrderRepository persists orders and order items in Postgres.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an OrderRepository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	address, err := marshalJSON(order.ShippingAddressJSON)
	if err != nil {
		return fmt.Errorf("order insert: encode shipping address: %w", err)
	}

	const query = `INSERT INTO orders (
		id, order_number, customer_id, customer_name, customer_email, customer_phone,
		shipping_address, shipping_address_json, subtotal, shipping_cost, discount, total,
		currency, payment_method, payment_status, order_status, payment_reservation_id,
		provider_payment_id, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = conn(ctx, r.db).ExecContext(ctx, query,
		order.ID, order.OrderNumber, order.CustomerID, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, address, order.Subtotal, order.ShippingCost, order.Discount, order.Total,
		order.Currency, order.PaymentMethod, string(order.PaymentStatus), string(order.OrderStatus),
		nullString(order.PaymentReservationID), nullString(order.ProviderPaymentID),
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	return WrapError("order.insert", err)
}

func (r *OrderRepository) InsertItem(ctx context.Context, item domain.OrderItem) error {
	customization, err := marshalJSON(item.Customization)
	if err != nil {
		return fmt.Errorf("order item insert: encode customization: %w", err)
	}
	images := item.CustomizationImages
	if images == nil {
		images = []string{}
	}

	const query = `INSERT INTO order_items (` + orderItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = conn(ctx, r.db).ExecContext(ctx, query,
		item.ID, item.OrderID, nullString(item.ProductID), item.ProductName, item.ProductImage,
		item.UnitPrice, item.Quantity, customization, pq.Array(images), item.RequiresDesign,
		item.CreatedAt.UTC(),
	)
	return WrapError("order_item.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "order.find", "orders.id = $1", orderID)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "order.find_by_number", "orders.order_number = $1", orderNumber)
}

func (r *OrderRepository) findOne(ctx context.Context, op, predicate string, arg string) (domain.Order, error) {
	q := conn(ctx, r.db)
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+predicate, arg)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, WrapError(op, err)
	}
	items, err := r.listItems(ctx, q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *OrderRepository) FindItem(ctx context.Context, itemID string) (domain.OrderItem, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orderItemColumns+` FROM order_items WHERE id = $1`, itemID)
	item, err := scanOrderItem(row)
	if err != nil {
		return domain.OrderItem{}, WrapError("order_item.find", err)
	}
	return item, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize)

	var where whereBuilder
	if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
		where.add("orders.customer_id = ?", customer)
	}
	if len(filter.OrderStatus) > 0 {
		where.add("orders.order_status = ANY(?)", pq.Array(orderStatusStrings(filter.OrderStatus)))
	}
	if len(filter.PaymentStatus) > 0 {
		where.add("orders.payment_status = ANY(?)", pq.Array(paymentStatusStrings(filter.PaymentStatus)))
	}
	if from := filter.DateRange.From; from != nil {
		where.add("orders.created_at >= ?", from.UTC())
	}
	if to := filter.DateRange.To; to != nil {
		where.add("orders.created_at <= ?", to.UTC())
	}
	where.keyset("orders", cursor)

	query := `SELECT ` + orderColumns + ` FROM orders` + where.sql() +
		` ORDER BY orders.created_at DESC, orders.id DESC` + where.limit(pageSize+1)

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, where.args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, WrapError("order.list", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, WrapError("order.list", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, WrapError("order.list", err)
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var token string
	if hasMore {
		last := orders[len(orders)-1]
		if token, err = nextToken(true, last.CreatedAt, last.ID); err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: token}, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) error {
	var orderStatus, paymentStatus sql.NullString
	if update.OrderStatus != nil {
		orderStatus = sql.NullString{String: string(*update.OrderStatus), Valid: true}
	}
	if update.PaymentStatus != nil {
		paymentStatus = sql.NullString{String: string(*update.PaymentStatus), Valid: true}
	}

	const query = `UPDATE orders SET
		order_status = COALESCE($2, order_status),
		payment_status = COALESCE($3, payment_status),
		provider_payment_id = COALESCE($4, provider_payment_id),
		updated_at = $5
		WHERE id = $1`

	res, err := conn(ctx, r.db).ExecContext(ctx, query, orderID, orderStatus, paymentStatus,
		nullString(update.ProviderPaymentID), update.UpdatedAt.UTC())
	if err != nil {
		return WrapError("order.update_status", err)
	}
	return requireRow(res, "order.update_status")
}

func (r *OrderRepository) AttachReservation(ctx context.Context, orderID string, reservationID string, at time.Time) error {
	const query = `UPDATE orders SET payment_reservation_id = $2, updated_at = $3 WHERE id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, orderID, reservationID, at.UTC())
	if err != nil {
		return WrapError("order.attach_reservation", err)
	}
	return requireRow(res, "order.attach_reservation")
}

func (r *OrderRepository) listItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, WrapError("order_item.list", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return nil, WrapError("order_item.list", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("order_item.list", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		address       []byte
		paymentStatus string
		orderStatus   string
		reservation   sql.NullString
		providerPay   sql.NullString
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &order.CustomerName, &order.CustomerEmail,
		&order.CustomerPhone, &order.ShippingAddress, &address, &order.Subtotal, &order.ShippingCost,
		&order.Discount, &order.Total, &order.Currency, &order.PaymentMethod, &paymentStatus, &orderStatus,
		&reservation, &providerPay, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PaymentStatus, err = domain.ParsePaymentStatus(paymentStatus); err != nil {
		return domain.Order{}, err
	}
	if order.OrderStatus, err = domain.ParseOrderStatus(orderStatus); err != nil {
		return domain.Order{}, err
	}
	if order.ShippingAddressJSON, err = unmarshalMap(address); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	order.PaymentReservationID = stringPtr(reservation)
	order.ProviderPaymentID = stringPtr(providerPay)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item          domain.OrderItem
		productID     sql.NullString
		customization []byte
		images        []string
	)
	err := row.Scan(
		&item.ID, &item.OrderID, &productID, &item.ProductName, &item.ProductImage, &item.UnitPrice,
		&item.Quantity, &customization, pq.Array(&images), &item.RequiresDesign, &item.CreatedAt,
	)
	if err != nil {
		return domain.OrderItem{}, err
	}
	if item.Customization, err = unmarshalMap(customization); err != nil {
		return domain.OrderItem{}, fmt.Errorf("decode customization: %w", err)
	}
	item.ProductID = stringPtr(productID)
	item.CustomizationImages = images
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func requireRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return WrapError(op, err)
	}
	if affected == 0 {
		return WrapError(op, sql.ErrNoRows)
	}
	return nil
}

func orderStatusStrings(values []domain.OrderStatus) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

func paymentStatusStrings(values []domain.PaymentStatus) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}
