package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/core/service"
	"github.com/rl1809/shoe-store/internal/port"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type HTTPHandler struct {
	orders    port.OrderService
	inventory *service.InventoryService
	stock     *service.StockSynchronizer
	log       logrus.FieldLogger
}

func NewHTTPHandler(orders port.OrderService, inventory *service.InventoryService, stock *service.StockSynchronizer, log logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{orders: orders, inventory: inventory, stock: stock, log: log}
}

type CheckoutItemRequest struct {
	ProductID       string          `json:"productId"`
	Size            string          `json:"size"`
	Color           string          `json:"color"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice"`
}

type CheckoutRequest struct {
	CustomerName    string                `json:"customerName"`
	CustomerPhone   string                `json:"customerPhone"`
	CustomerEmail   string                `json:"customerEmail"`
	DeliveryAddress string                `json:"deliveryAddress"`
	DeliveryCity    string                `json:"deliveryCity"`
	Notes           string                `json:"notes"`
	Items           []CheckoutItemRequest `json:"items"`
	TotalAmount     decimal.Decimal       `json:"totalAmount"`
}

func (r CheckoutRequest) toDomain() domain.CheckoutRequest {
	req := domain.CheckoutRequest{
		CustomerName:    r.CustomerName,
		CustomerPhone:   r.CustomerPhone,
		CustomerEmail:   r.CustomerEmail,
		DeliveryAddress: r.DeliveryAddress,
		DeliveryCity:    r.DeliveryCity,
		Notes:           r.Notes,
		TotalAmount:     r.TotalAmount,
		Lines:           make([]domain.CheckoutLine, len(r.Items)),
	}
	for i, item := range r.Items {
		req.Lines[i] = domain.CheckoutLine(item)
	}
	return req
}

type CheckoutResponse struct {
	Message     string `json:"message"`
	OrderNumber string `json:"orderNumber"`
	OrderID     string `json:"orderId"`
}

type InsufficientStockResponse struct {
	Error                  string                 `json:"error"`
	InsufficientStockItems []domain.StockShortage `json:"insufficientStockItems"`
}

type OrderItemResponse struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"productId"`
	Size            string          `json:"size"`
	Color           string          `json:"color"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice"`
}

type OrderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	CustomerID      string              `json:"customerId"`
	CustomerName    string              `json:"customerName"`
	CustomerPhone   string              `json:"customerPhone"`
	DeliveryAddress string              `json:"deliveryAddress"`
	DeliveryCity    string              `json:"deliveryCity"`
	Notes           string              `json:"notes,omitempty"`
	TotalAmount     decimal.Decimal     `json:"totalAmount"`
	Status          domain.OrderStatus  `json:"status"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	Items           []OrderItemResponse `json:"items"`
}

func newOrderResponse(o domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		CustomerName:    o.CustomerName,
		CustomerPhone:   o.CustomerPhone,
		DeliveryAddress: o.DeliveryAddress,
		DeliveryCity:    o.DeliveryCity,
		Notes:           o.Notes,
		TotalAmount:     o.TotalAmount,
		Status:          o.Status,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           make([]OrderItemResponse, len(o.Lines)),
	}
	for i, line := range o.Lines {
		resp.Items[i] = OrderItemResponse{
			ID:              line.ID,
			ProductID:       line.ProductID,
			Size:            line.Size,
			Color:           line.Color,
			Quantity:        line.Quantity,
			Price:           line.Price,
			DiscountAmount:  line.DiscountAmount,
			DiscountedPrice: line.DiscountedPrice,
		}
	}
	return resp
}

type InventoryItemResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newInventoryItems(records []domain.InventoryRecord) []InventoryItemResponse {
	items := make([]InventoryItemResponse, len(records))
	for i, r := range records {
		items[i] = InventoryItemResponse{
			ID:        r.ID,
			ProductID: r.ProductID,
			Size:      r.Size,
			Color:     r.Color,
			Quantity:  r.Quantity,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items
}

// POST /api/orders
func (h *HTTPHandler) PlaceOrder(c *gin.Context) {
	var payload CheckoutRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondProblem(c, ProblemBadRequest.WithDetail("invalid request body"))
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), c.GetHeader(IdempotencyKeyHeader), payload.toDomain())
	if err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			c.JSON(http.StatusBadRequest, InsufficientStockResponse{
				Error:                  "Insufficient stock for some items",
				InsufficientStockItems: stockErr.Items,
			})
			return
		}
		respondError(c, h.log, err, "Failed to place order")
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{
		Message:     "Order placed successfully",
		OrderNumber: order.OrderNumber,
		OrderID:     order.ID,
	})
}

// GET /api/orders/:orderNumber
func (h *HTTPHandler) GetOrderByNumber(c *gin.Context) {
	h.trackOrder(c, c.Param("orderNumber"))
}

// GET /api/orders/track?orderNumber=
func (h *HTTPHandler) TrackOrder(c *gin.Context) {
	number := strings.TrimSpace(c.Query("orderNumber"))
	if number == "" {
		respondProblem(c, ProblemValidation.WithDetail("orderNumber is required"))
		return
	}
	h.trackOrder(c, number)
}

func (h *HTTPHandler) trackOrder(c *gin.Context, number string) {
	order, err := h.orders.TrackOrder(c.Request.Context(), number)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch order details")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": newOrderResponse(order)})
}

// GET /api/products/:id/stock
// With both size and color the single variant is returned, otherwise the
// full size x color matrix.
func (h *HTTPHandler) GetProductStock(c *gin.Context) {
	productID := c.Param("id")
	size, color := c.Query("size"), c.Query("color")

	if size != "" && color != "" {
		stock, err := h.inventory.VariantStock(c.Request.Context(), productID, size, color)
		if err != nil {
			respondError(c, h.log, err, "Failed to fetch product stock")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"productId":         productID,
			"size":              size,
			"color":             color,
			"inStock":           stock.InStock,
			"quantity":          stock.Quantity,
			"availableQuantity": stock.AvailableQuantity,
			"reservedQuantity":  stock.ReservedQuantity,
		})
		return
	}

	matrix, err := h.inventory.StockMatrix(c.Request.Context(), productID)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch product stock")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"productId":      matrix.Product.ID,
		"productName":    matrix.Product.Name,
		"sizes":          matrix.Product.Sizes,
		"colors":         matrix.Product.Colors,
		"overallInStock": matrix.Product.InStock,
		"stockMatrix":    matrix.Variants,
	})
}

type productStockStatus struct {
	ID      string `json:"id"`
	InStock bool   `json:"inStock"`
}

// GET /api/products/stock?ids=a,b
func (h *HTTPHandler) GetProductsStock(c *gin.Context) {
	raw := c.Query("ids")
	if strings.TrimSpace(raw) == "" {
		respondProblem(c, ProblemValidation.WithDetail("Product IDs are required"))
		return
	}
	ids := domain.DistinctProductIDs(splitAndTrim(raw))
	if len(ids) == 0 {
		respondProblem(c, ProblemValidation.WithDetail("Valid product IDs are required"))
		return
	}

	statuses, err := h.inventory.StockStatuses(c.Request.Context(), ids)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch product stock")
		return
	}

	stockStatus := make(map[string]productStockStatus, len(statuses))
	for id, inStock := range statuses {
		stockStatus[id] = productStockStatus{ID: id, InStock: inStock}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"stockStatus": stockStatus,
		"timestamp":   time.Now().UTC(),
	})
}

// GET /api/admin/orders?q=&status=&page=&limit=
func (h *HTTPHandler) ListOrders(c *gin.Context) {
	filter := domain.OrderFilter{Query: c.Query("q")}
	if raw := c.Query("status"); raw != "" && !strings.EqualFold(raw, "ALL") {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			respondError(c, h.log, err, "Failed to fetch orders")
			return
		}
		filter.Status = status
	}
	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))

	orders, total, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch orders")
		return
	}

	resp := make([]OrderResponse, len(orders))
	for i, o := range orders {
		resp[i] = newOrderResponse(o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp, "total": total})
}

// GET /api/admin/orders/:id
func (h *HTTPHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": newOrderResponse(order)})
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// PUT /api/admin/orders/:id
func (h *HTTPHandler) UpdateOrderStatus(c *gin.Context) {
	var payload UpdateStatusRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondProblem(c, ProblemBadRequest.WithDetail("invalid request body"))
		return
	}
	status, err := domain.ParseOrderStatus(payload.Status)
	if err != nil {
		respondError(c, h.log, err, "Failed to update order")
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		respondError(c, h.log, err, "Failed to update order")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":   newOrderResponse(order),
		"message": fmt.Sprintf("Order status updated to %s", order.Status),
	})
}

// DELETE /api/admin/orders/:id
func (h *HTTPHandler) CancelOrder(c *gin.Context) {
	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "Failed to cancel order")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":   newOrderResponse(order),
		"message": "Order cancelled successfully",
	})
}

// GET /api/admin/inventory?productId=
func (h *HTTPHandler) ListInventory(c *gin.Context) {
	productID := c.Query("productId")
	if productID == "" {
		respondProblem(c, ProblemValidation.WithDetail("Product ID is required"))
		return
	}
	records, err := h.inventory.ListInventory(c.Request.Context(), productID)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch inventory")
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventoryItems": newInventoryItems(records)})
}

type SetInventoryRequest struct {
	ProductID        string                   `json:"productId"`
	InventoryUpdates []domain.VariantQuantity `json:"inventoryUpdates"`
}

// POST /api/admin/inventory
func (h *HTTPHandler) SetInventory(c *gin.Context) {
	var payload SetInventoryRequest
	if err := c.ShouldBindJSON(&payload); err != nil || payload.ProductID == "" || payload.InventoryUpdates == nil {
		respondProblem(c, ProblemBadRequest.WithDetail("Invalid request data"))
		return
	}

	update, err := h.inventory.SetInventory(c.Request.Context(), payload.ProductID, payload.InventoryUpdates)
	if err != nil {
		respondError(c, h.log, err, "Failed to update inventory")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"inventoryItems": newInventoryItems(update.Items),
		"stockStatus":    update.InStock,
		"message":        "Inventory updated. Product is now " + stockLabel(update.InStock),
	})
}

type BulkInventoryRequest struct {
	ProductID       string                    `json:"productId"`
	InventoryMatrix map[string]map[string]int `json:"inventoryMatrix"`
}

// POST /api/admin/inventory/bulk
func (h *HTTPHandler) BulkSetInventory(c *gin.Context) {
	var payload BulkInventoryRequest
	if err := c.ShouldBindJSON(&payload); err != nil || payload.ProductID == "" || payload.InventoryMatrix == nil {
		respondProblem(c, ProblemBadRequest.WithDetail("Product ID and inventory matrix are required"))
		return
	}

	update, err := h.inventory.SetInventoryMatrix(c.Request.Context(), payload.ProductID, payload.InventoryMatrix)
	if err != nil {
		respondError(c, h.log, err, "Failed to bulk update inventory")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"inventoryItems": newInventoryItems(update.Items),
		"stockStatus":    update.InStock,
		"message":        "Inventory updated. Product is now " + stockLabel(update.InStock),
	})
}

// DELETE /api/admin/inventory?id=
func (h *HTTPHandler) DeleteInventory(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		respondProblem(c, ProblemValidation.WithDetail("Inventory ID is required"))
		return
	}
	update, err := h.inventory.DeleteInventory(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err, "Failed to delete inventory item")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stockStatus": update.InStock,
		"message":     "Inventory item deleted. Product is now " + stockLabel(update.InStock),
	})
}

type SyncStockRequest struct {
	ProductIDs []string `json:"productIds"`
}

// POST /api/admin/inventory/sync-stock
// Without productIds every product is reconciled.
func (h *HTTPHandler) SyncStock(c *gin.Context) {
	var payload SyncStockRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondProblem(c, ProblemBadRequest.WithDetail("invalid request body"))
			return
		}
	}

	ctx := c.Request.Context()
	var report service.SyncReport
	if payload.ProductIDs != nil {
		report = h.stock.SyncProducts(ctx, payload.ProductIDs)
	} else {
		var err error
		report, err = h.stock.SyncAll(ctx)
		if err != nil {
			respondError(c, h.log, err, "Failed to sync stock status")
			return
		}
	}

	synced := len(report.Results)
	if synced == 0 && len(report.Failures) == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "No products found to sync", "syncedProducts": 0})
		return
	}

	failures := make(map[string]string, len(report.Failures))
	for id, err := range report.Failures {
		failures[id] = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         len(report.Failures) == 0,
		"message":         fmt.Sprintf("Synced stock status for %d products", synced),
		"syncedProducts":  synced,
		"inStockCount":    report.InStockCount(),
		"outOfStockCount": report.OutOfStockCount(),
		"results":         report.Results,
		"failures":        failures,
	})
}

// GET /health
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func stockLabel(inStock bool) string {
	if inStock {
		return "IN STOCK"
	}
	return "OUT OF STOCK"
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
